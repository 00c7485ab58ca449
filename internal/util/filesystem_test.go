package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsSameFilesystem(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")

	for _, p := range []string{a, b} {
		if err := os.Mkdir(p, 0755); err != nil {
			t.Fatal(err)
		}
	}

	same, err := IsSameFilesystem(a, b)
	if err != nil {
		t.Fatalf("IsSameFilesystem failed: %v", err)
	}
	if !same {
		t.Error("Sibling directories should share a filesystem")
	}
}

func TestIsSameFilesystemMissingPath(t *testing.T) {
	dir := t.TempDir()

	_, err := IsSameFilesystem(dir, filepath.Join(dir, "missing"))
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
}
