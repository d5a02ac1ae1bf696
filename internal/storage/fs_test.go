package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("name: Ada\n")
	if err := s.Write("ada.yaml", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("ada.yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempRoot(t)
	if err := s.Write("family/1815/ada.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("family/1815/ada.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteEmptyPath(t *testing.T) {
	s := tempRoot(t)
	if err := s.Write("", []byte("x")); err == nil {
		t.Error("expected error for an empty path")
	}
}

func TestDelete(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("bea.yaml", []byte("name: Bea"))
	if err := s.Delete("bea.yaml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("bea.yaml"); err == nil {
		t.Error("expected error reading deleted file")
	}
	if err := s.Delete("bea.yaml"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second delete = %v, want ErrNotExist", err)
	}
}

func TestList(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/b.yaml", []byte("b"))
	_ = s.Write("sub/c.yml", []byte("c"))
	_ = s.Write("readme.txt", []byte("not a chart"))
	_ = s.Write(".hidden.yaml", []byte("skipped"))
	_ = s.Write(".trash/old.yaml", []byte("skipped"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(items), items)
	}
	for _, it := range items {
		if it.Path == "sub/b.yaml" && len(it.Checksum) != 64 {
			t.Errorf("checksum = %q", it.Checksum)
		}
	}

	sub, err := s.List("sub")
	if err != nil {
		t.Fatalf("List(sub): %v", err)
	}
	if len(sub) != 2 {
		t.Errorf("sub len = %d, want 2", len(sub))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.yaml",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestSymlinkEscapeBlocked(t *testing.T) {
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.yaml"), []byte("name: x"), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	s, err := NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Read("link/secret.yaml"); err == nil {
		t.Error("read through a symlink leaving the root should fail")
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("ada.yaml", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("ada.yaml", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("ada.yaml")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.Dir(), tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(p); err == nil {
		t.Error("expected error when root is a file")
	}
}
