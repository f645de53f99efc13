package modpack

import (
	"encoding/json"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/loykin/craftd/internal/errs"
)

// ManifestName is the manifest entry at the archive root.
const ManifestName = "manifest.json"

// Manifest declares a modpack's game version and required mod files.
type Manifest struct {
	Minecraft struct {
		Version    string `json:"version"`
		ModLoaders []struct {
			ID      string `json:"id"`
			Primary bool   `json:"primary"`
		} `json:"modLoaders"`
	} `json:"minecraft"`
	ManifestType    string         `json:"manifestType"`
	ManifestVersion int            `json:"manifestVersion"`
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	Author          string         `json:"author"`
	Files           []ManifestFile `json:"files"`
	Overrides       string         `json:"overrides"`
}

// ManifestFile references one mod file on the registry.
type ManifestFile struct {
	ProjectID int   `json:"projectID"`
	FileID    int   `json:"fileID"`
	Required  *bool `json:"required,omitempty"`
}

// Mods returns the files to install. Entries explicitly marked optional are
// skipped.
func (m Manifest) Mods() []ManifestFile {
	out := make([]ManifestFile, 0, len(m.Files))
	for _, f := range m.Files {
		if f.Required != nil && !*f.Required {
			continue
		}
		out = append(out, f)
	}
	return out
}

// OverridesDir returns the archive folder copied over the server directory.
func (m Manifest) OverridesDir() string {
	d := strings.Trim(path.Clean("/"+m.Overrides), "/")
	if d == "" {
		return "overrides"
	}
	return d
}

// Loader returns the primary mod loader id, if any.
func (m Manifest) Loader() string {
	for _, l := range m.Minecraft.ModLoaders {
		if l.Primary {
			return l.ID
		}
	}
	if len(m.Minecraft.ModLoaders) > 0 {
		return m.Minecraft.ModLoaders[0].ID
	}
	return ""
}

// ReadManifest decodes the manifest of an opened archive.
func ReadManifest(zr *zip.Reader) (Manifest, error) {
	var f *zip.File
	for _, e := range zr.File {
		if e.Name == ManifestName {
			f = e
			break
		}
	}
	if f == nil {
		return Manifest{}, errs.Validation("archive has no %s", ManifestName)
	}
	rc, err := f.Open()
	if err != nil {
		return Manifest{}, errs.Validation("open %s: %v", ManifestName, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(io.LimitReader(rc, 8<<20))
	if err != nil {
		return Manifest{}, errs.Validation("read %s: %v", ManifestName, err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return Manifest{}, errs.Validation("%s is empty", ManifestName)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, errs.Validation("decode %s: %v", ManifestName, err)
	}
	if len(m.Mods()) == 0 {
		return Manifest{}, errs.Validation("%s lists no required mod files", ManifestName)
	}
	for _, f := range m.Files {
		if f.ProjectID <= 0 || f.FileID <= 0 {
			return Manifest{}, errs.Validation("%s: invalid file reference %d/%d", ManifestName, f.ProjectID, f.FileID)
		}
	}
	return m, nil
}
