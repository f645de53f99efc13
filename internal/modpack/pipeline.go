// Package modpack installs modpack archives and single mods into servers as
// background jobs.
package modpack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/klauspost/compress/zip"

	"github.com/loykin/craftd/internal/lifecycle"
)

// Steps of a modpack install.
const (
	StepDownload  = "download"
	StepManifest  = "manifest"
	StepOverrides = "overrides"
	StepMods      = "mods"
	StepFinalize  = "finalize"
)

// Reporter receives install progress. *jobs.Tracker implements it.
type Reporter interface {
	Report(pct int, msg string)
	Step(name string, stepPct int)
	Mods(index, total int)
	Logf(format string, args ...any)
	AddFile(path string)
}

// Pipeline runs the install steps. Files already written stay in place when
// a later step fails; the reporter's file list is the record of them.
type Pipeline struct {
	Downloader Downloader
	Mods       ModInstaller
	// TempDir holds the downloaded archive; empty uses the OS default.
	TempDir string
	Chowner lifecycle.Chowner
	Logger  *slog.Logger
}

// OverallPercent is the pipeline percentage after installed of total mods.
func OverallPercent(installed, total int) int {
	if total <= 0 {
		return 90
	}
	return int(math.Round(90 * float64(installed) / float64(total)))
}

// Run downloads the archive at url and installs it into dir.
func (p *Pipeline) Run(ctx context.Context, r Reporter, dir, url string) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Step(StepDownload, 0)
	r.Report(0, "downloading modpack")
	r.Logf("downloading %s", url)
	tmp, err := os.CreateTemp(p.TempDir, "craftd-modpack-*.zip")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	archive := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(archive) }()

	last := -1
	size, err := p.Downloader.Fetch(ctx, url, archive, func(done, total int64) {
		if total <= 0 {
			return
		}
		if pct := int(done * 100 / total); pct != last {
			last = pct
			r.Step(StepDownload, pct)
		}
	})
	if err != nil {
		return err
	}
	r.Step(StepDownload, 100)
	r.Logf("downloaded %d bytes", size)

	r.Step(StepManifest, 0)
	zr, err := zip.OpenReader(archive)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("open modpack archive: %w", err)
	}
	defer func() { _ = zr.Close() }()
	m, err := ReadManifest(&zr.Reader)
	if err != nil {
		return err
	}
	mods := m.Mods()
	r.Step(StepManifest, 100)
	r.Mods(0, len(mods))
	r.Logf("modpack %s %s for %s %s: %d mods", m.Name, m.Version, m.Loader(), m.Minecraft.Version, len(mods))

	r.Step(StepOverrides, 0)
	n, err := extractOverrides(&zr.Reader, m.OverridesDir(), dir, r.AddFile)
	if err != nil {
		return err
	}
	r.Step(StepOverrides, 100)
	r.Logf("extracted %d override files", n)
	r.Report(OverallPercent(0, len(mods)), "overrides extracted")

	for i, f := range mods {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.Step(StepMods, 0)
		path, err := p.Mods.InstallMod(ctx, dir, f.ProjectID, f.FileID, nil)
		if err != nil {
			return fmt.Errorf("mod %d/%d: %w", f.ProjectID, f.FileID, err)
		}
		r.AddFile(path)
		r.Step(StepMods, 100)
		r.Mods(i+1, len(mods))
		r.Logf("installed %s", path)
		r.Report(OverallPercent(i+1, len(mods)), fmt.Sprintf("installed mod %d of %d", i+1, len(mods)))
	}

	r.Step(StepFinalize, 0)
	if p.Chowner != nil {
		if err := p.Chowner.Chown(dir); err != nil {
			logger.Warn("chown after modpack install", "dir", dir, "error", err)
		}
	}
	r.Step(StepFinalize, 100)
	r.Report(100, "modpack installed")
	return nil
}
