package hash

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/franz/disk-janitor/internal/util"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestComputeDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.bin", []byte("hello world"))

	first, err := Compute(path)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	second, err := Compute(path)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if first != second {
		t.Errorf("Hash not deterministic: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(first))
	}
}

func TestComputeDistinguishesContent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", []byte("content a"))
	b := writeFile(t, dir, "b.bin", []byte("content b"))

	hashA, err := Compute(a)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	hashB, err := Compute(b)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if hashA == hashB {
		t.Error("Different content produced identical hashes")
	}
}

func TestComputeMissingFile(t *testing.T) {
	_, err := Compute(filepath.Join(t.TempDir(), "missing.bin"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestMatches(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.bin", []byte("payload"))

	digest, err := Compute(path)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	ok, err := Matches(path, digest)
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if !ok {
		t.Error("File should match its own digest")
	}

	// Case-insensitive comparison
	ok, err = Matches(path, strings.ToUpper(digest))
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if !ok {
		t.Error("Uppercase digest should still match")
	}

	ok, err = Matches(path, strings.Repeat("0", 64))
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if ok {
		t.Error("Wrong digest should not match")
	}
}

func TestMatchesMissingFileIsNotAnError(t *testing.T) {
	ok, err := Matches(filepath.Join(t.TempDir(), "gone.bin"), strings.Repeat("a", 64))
	if err != nil {
		t.Fatalf("Missing file should not be an error: %v", err)
	}
	if ok {
		t.Error("Missing file should not match")
	}
}

func TestVerifySourceUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.bin", []byte("original"))

	digest, err := Compute(path)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if err := VerifySourceUnchanged(path, digest); err != nil {
		t.Errorf("Unchanged source should verify: %v", err)
	}

	// Modify the file after planning
	if err := os.WriteFile(path, []byte("drifted"), 0644); err != nil {
		t.Fatalf("Failed to modify file: %v", err)
	}

	err = VerifySourceUnchanged(path, digest)
	if err == nil {
		t.Fatal("Changed source should fail verification")
	}
	if !errors.Is(err, util.ErrSourceChanged) {
		t.Errorf("Expected ErrSourceChanged, got %v", err)
	}
}

func TestVerifyDestination(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dest.bin", []byte("copied"))

	digest, err := Compute(path)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if err := VerifyDestination(path, digest); err != nil {
		t.Errorf("Matching destination should verify: %v", err)
	}

	err = VerifyDestination(path, strings.Repeat("f", 64))
	if err == nil {
		t.Fatal("Mismatching destination should fail")
	}
	if !errors.Is(err, util.ErrDestinationMismatch) {
		t.Errorf("Expected ErrDestinationMismatch, got %v", err)
	}
}
