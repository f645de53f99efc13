package modpack

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/loykin/craftd/internal/errs"
)

// SafeJoin resolves rel inside root and rejects any result outside it.
func SafeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", errs.Validation("empty path")
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || filepath.VolumeName(rel) != "" {
		return "", errs.Validation("absolute path %q", rel)
	}
	root = filepath.Clean(root)
	dst := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, dst)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", errs.Validation("path %q escapes %s", rel, root)
	}
	return dst, nil
}

type override struct {
	file *zip.File
	dst  string
}

// planOverrides maps every entry under prefix/ to its destination in root.
// One escaping entry rejects the whole archive before anything is written.
func planOverrides(zr *zip.Reader, prefix, root string) ([]override, error) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	var plan []override
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rel := strings.TrimPrefix(name, prefix)
		if rel == "" {
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			return nil, errs.Validation("archive entry %q is a symlink", f.Name)
		}
		dst, err := SafeJoin(root, rel)
		if err != nil {
			return nil, fmt.Errorf("archive entry %q: %w", f.Name, err)
		}
		plan = append(plan, override{file: f, dst: dst})
	}
	return plan, nil
}

// extractOverrides writes the override files into root. written is called for
// each regular file created.
func extractOverrides(zr *zip.Reader, prefix, root string, written func(path string)) (int, error) {
	plan, err := planOverrides(zr, prefix, root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range plan {
		if o.file.FileInfo().IsDir() {
			if err := os.MkdirAll(o.dst, 0o755); err != nil {
				return n, err
			}
			continue
		}
		if err := extractFile(o.file, o.dst); err != nil {
			return n, err
		}
		n++
		if written != nil {
			written(o.dst)
		}
	}
	return n, nil
}

func extractFile(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
