package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanFindsNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("hello"))
	writeFile(t, filepath.Join(dir, "b.txt"), []byte("world"))

	w := New(dir, true)
	got, err := w.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(got))
	}
}

func TestScanIsQuietOnUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("hello"))

	w := New(dir, true)
	if _, err := w.Scan(); err != nil {
		t.Fatal(err)
	}
	got, err := w.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d descriptors on unchanged rescan, want 0", len(got))
	}
}

func TestScanDetectsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, []byte("hello"))

	w := New(dir, true)
	if _, err := w.Scan(); err != nil {
		t.Fatal(err)
	}

	later := time.Now().Add(time.Hour)
	writeFile(t, path, []byte("hello world, now longer"))
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	got, err := w.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != path {
		t.Fatalf("got %v, want one descriptor for %s", got, path)
	}
}

func TestScanRecursesIntoSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(sub, "nested.txt"), []byte("nested"))

	w := New(dir, true)
	got, err := w.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d descriptors, want 1", len(got))
	}
}

func TestScanNonRecursiveSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(sub, "nested.txt"), []byte("nested"))
	writeFile(t, filepath.Join(dir, "top.txt"), []byte("top"))

	w := New(dir, false)
	got, err := w.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != filepath.Join(dir, "top.txt") {
		t.Fatalf("got %v, want only top.txt", got)
	}
}

func TestScanSkipsLockFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("hello"))
	writeFile(t, filepath.Join(dir, ".relay.lock"), []byte(""))

	w := New(dir, true)
	got, err := w.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != filepath.Join(dir, "a.txt") {
		t.Fatalf("got %v, want only a.txt", got)
	}
}

func TestScanMissingRootIsNotFatal(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "does-not-exist"), true)
	got, err := w.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d descriptors, want 0", len(got))
	}
}
