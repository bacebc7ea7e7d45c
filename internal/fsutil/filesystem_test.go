package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_WriteRename(t *testing.T) {
	fs := OSFileSystem{}
	dir := t.TempDir()
	tmp := filepath.Join(dir, "table.tmp")
	final := filepath.Join(dir, "table.rec")

	if err := fs.WriteFile(tmp, []byte("payload"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fs.Rename(tmp, final); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if fs.Exists(tmp) {
		t.Error("expected temporary file to be gone after rename")
	}

	data, err := fs.ReadFile(final)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("expected payload, got %q", data)
	}

	matches, err := fs.Glob(filepath.Join(dir, "*.rec"))
	if err != nil || len(matches) != 1 {
		t.Errorf("Glob = %v, %v; want one match", matches, err)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// Returned slices are copies.
	data[0] = 'H'
	again, _ := mfs.ReadFile("/test.txt")
	if again[0] != 'h' {
		t.Error("ReadFile returned a shared buffer")
	}
	if mfs.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", mfs.Writes())
	}
}

func TestMemoryFileSystem_ReadMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.ReadFile("/missing"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if err := mfs.Remove("/missing"); err == nil {
		t.Error("expected error removing missing file")
	}
	if err := mfs.Rename("/missing", "/other"); err == nil {
		t.Error("expected error renaming missing file")
	}
}

func TestMemoryFileSystem_RenameReplaces(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/d/a", []byte("new"), 0644)
	_ = mfs.WriteFile("/d/b", []byte("old"), 0644)

	if err := mfs.Rename("/d/a", "/d/b"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if mfs.Exists("/d/a") {
		t.Error("source should not exist after rename")
	}
	data, _ := mfs.ReadFile("/d/b")
	if string(data) != "new" {
		t.Errorf("expected replaced content, got %q", data)
	}
	if files := mfs.Files("/d"); len(files) != 1 || files[0] != "/d/b" {
		t.Errorf("Files(/d) = %v", files)
	}
}

func TestMemoryFileSystem_MkdirAllAndGlob(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		if !mfs.Exists(dir) {
			t.Errorf("expected %s to exist", dir)
		}
	}

	_ = mfs.WriteFile("/a/x.rec.zst", nil, 0644)
	_ = mfs.WriteFile("/a/y.txt", nil, 0644)
	matches, err := mfs.Glob("/a/*.rec.zst")
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) != 1 || matches[0] != "/a/x.rec.zst" {
		t.Errorf("Glob = %v", matches)
	}
}
