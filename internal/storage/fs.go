package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/harmonia/internal/checksum"
	"github.com/starford/harmonia/internal/models"
	"github.com/starford/harmonia/internal/parser"
)

const tmpPrefix = ".harmonia-tmp-"

// FS implements Provider on a chart directory. Every access goes through an
// os.Root, so paths cannot leave the directory, symlinks included.
type FS struct {
	dir  string
	root *os.Root
}

// NewFS opens the chart directory at dir, which must already exist.
func NewFS(dir string) (*FS, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", dir)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: open root: %w", err)
	}
	return &FS{dir: dir, root: root}, nil
}

// Dir is the directory the provider was opened on.
func (f *FS) Dir() string { return f.dir }

// Close releases the directory handle.
func (f *FS) Close() error { return f.root.Close() }

// clean turns a slash separated chart path into a root-relative name.
func clean(p string) (string, error) {
	if p == "" || p == "." {
		return ".", nil
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", p)
	}
	c := path.Clean(p)
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("storage: path escapes chart root: %s", p)
	}
	return c, nil
}

// List walks dir and returns metadata for every chart record. Hidden files,
// in-flight temp files among them, are skipped.
func (f *FS) List(dir string) ([]models.ChartMetadata, error) {
	base, err := clean(dir)
	if err != nil {
		return nil, err
	}
	fsys := f.root.FS()
	var out []models.ChartMetadata
	err = fs.WalkDir(fsys, base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != base && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !parser.IsChartFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		out = append(out, models.ChartMetadata{
			Path:      p,
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a chart file.
func (f *FS) Read(p string) ([]byte, error) {
	name, err := clean(p)
	if err != nil {
		return nil, err
	}
	data, err := f.root.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Write replaces the file at p atomically: the content goes to a hidden
// temp file next to it, which is synced and renamed over p.
func (f *FS) Write(p string, content []byte) error {
	name, err := clean(p)
	if err != nil {
		return err
	}
	if name == "." {
		return fmt.Errorf("storage: empty path")
	}
	dir := path.Dir(name)
	if err := f.root.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmpName := path.Join(dir, tmpPrefix+uuid.NewString())
	tmp, err := f.root.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = f.root.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := f.root.Rename(tmpName, name); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	committed = true
	return nil
}

// Delete removes a chart file. A missing file is reported as fs.ErrNotExist.
func (f *FS) Delete(p string) error {
	name, err := clean(p)
	if err != nil {
		return err
	}
	if err := f.root.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", p, fs.ErrNotExist)
		}
		return fmt.Errorf("storage: delete %s: %w", p, err)
	}
	return nil
}
