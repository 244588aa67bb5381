package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := tempStore(t)
	content := []byte("def main():\n    pass\n")
	if err := s.Write("run-1/refactored_code_20250101000000.py", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("run-1/refactored_code_20250101000000.py")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestReadMissingIsNotExist(t *testing.T) {
	s := tempStore(t)
	_, err := s.Read("nope.py")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestMove(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("nb.ipynb", []byte("{}"))
	if err := s.Move("nb.ipynb", "processed/nb.ipynb"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("processed/nb.ipynb")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("nb.ipynb"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestList(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("a.ipynb", []byte("a"))
	_ = s.Write("sub/b.ipynb", []byte("bb"))
	_ = s.Write("readme.txt", []byte("not a notebook"))

	items, err := s.List("", ".ipynb")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	sizes := map[string]int64{}
	for _, it := range items {
		sizes[it.Path] = it.Size
	}
	if sizes["sub/b.ipynb"] != 2 {
		t.Errorf("sizes = %v", sizes)
	}

	all, err := s.List("", "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestList_MissingDir(t *testing.T) {
	s := tempStore(t)
	items, err := s.List("run-404", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %v", items)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempStore(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.py",
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

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("atomic.py", []byte("original"))
	if err := s.Write("atomic.py", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.py")
	if string(got) != "updated" {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.Root(), tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(p, nil, 0o644)
	if _, err := NewFS(p); err == nil {
		t.Error("expected error when root is a file")
	}
}
