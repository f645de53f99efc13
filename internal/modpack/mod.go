package modpack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/craftd/internal/errs"
	"github.com/loykin/craftd/internal/registry"
)

// ModsDir is the server folder mods are installed into.
const ModsDir = "mods"

// ModInstaller installs a single mod file into a server.
type ModInstaller interface {
	// InstallMod returns the path written. progress may be nil.
	InstallMod(ctx context.Context, dir string, projectID, fileID int, progress func(pct int, msg string)) (string, error)
}

// RegistryInstaller resolves a mod on the registry and downloads it into the
// server's mods folder.
type RegistryInstaller struct {
	Resolver   registry.Resolver
	Downloader Downloader
}

func (m RegistryInstaller) InstallMod(ctx context.Context, dir string, projectID, fileID int, progress func(int, string)) (string, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	progress(0, fmt.Sprintf("resolving %d/%d", projectID, fileID))
	mf, err := m.Resolver.Resolve(ctx, projectID, fileID)
	if err != nil {
		return "", err
	}
	if mf.FileName == "" || filepath.Base(mf.FileName) != mf.FileName {
		return "", errs.Validation("mod file name %q is not a plain file name", mf.FileName)
	}
	mods := filepath.Join(dir, ModsDir)
	if err := os.MkdirAll(mods, 0o755); err != nil {
		return "", err
	}
	dst, err := SafeJoin(mods, mf.FileName)
	if err != nil {
		return "", err
	}
	last := -1
	_, err = m.Downloader.Fetch(ctx, mf.DownloadURL, dst, func(done, total int64) {
		if total <= 0 {
			return
		}
		if pct := int(done * 100 / total); pct != last {
			last = pct
			progress(pct, "downloading "+mf.FileName)
		}
	})
	if err != nil {
		return "", err
	}
	progress(100, "installed "+mf.FileName)
	return dst, nil
}
