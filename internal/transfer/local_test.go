package transfer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/franz/disk-janitor/internal/util"
)

func createTestFile(t *testing.T, path string, content []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLocalCopy(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "source.bin")
	dst := filepath.Join(tmpDir, "dest", "copy.bin")
	content := []byte("local copy payload")

	createTestFile(t, src, content)

	result, err := NewLocal().Copy(context.Background(), src, dst, DefaultOptions())
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if result.BytesTransferred != int64(len(content)) {
		t.Errorf("Expected %d bytes, got %d", len(content), result.BytesTransferred)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("Failed to read destination: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Destination content does not match source")
	}

	// The .part staging file must not survive a successful copy
	if _, err := os.Stat(dst + ".part"); !os.IsNotExist(err) {
		t.Error(".part file was not cleaned up")
	}
}

func TestLocalCopyMissingSource(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := NewLocal().Copy(context.Background(),
		filepath.Join(tmpDir, "missing.bin"),
		filepath.Join(tmpDir, "dest.bin"),
		DefaultOptions())
	if err == nil {
		t.Fatal("Expected error for missing source")
	}
	if !errors.Is(err, util.ErrTransferFailed) {
		t.Errorf("Expected ErrTransferFailed, got %v", err)
	}
}

func TestLocalCopyCancelled(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "big.bin")
	dst := filepath.Join(tmpDir, "dest.bin")

	createTestFile(t, src, bytes.Repeat([]byte{0xAB}, 1<<20))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocal().Copy(ctx, src, dst, DefaultOptions())
	if err == nil {
		t.Fatal("Expected cancellation error")
	}

	// No plausible-looking destination may remain
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Error("Cancelled copy left a destination file")
	}
}

func TestLocalCopyPreservesMode(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "script.sh")
	dst := filepath.Join(tmpDir, "out", "script.sh")

	createTestFile(t, src, []byte("#!/bin/sh\n"))
	if err := os.Chmod(src, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := NewLocal().Copy(context.Background(), src, dst, DefaultOptions()); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("Expected mode 0755, got %o", info.Mode().Perm())
	}
}

func TestLocalRemove(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "victim.bin")
	createTestFile(t, path, []byte("x"))

	if err := NewLocal().Remove(context.Background(), path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("File still exists after Remove")
	}
}

func TestRcloneRemoteSuffix(t *testing.T) {
	if got := NewRclone("gdrive").Remote(); got != "gdrive:" {
		t.Errorf("Expected trailing colon, got %q", got)
	}
	if got := NewRclone("s3:").Remote(); got != "s3:" {
		t.Errorf("Colon must not be doubled, got %q", got)
	}
}

func TestIsZeroBlock(t *testing.T) {
	if !isZeroBlock(make([]byte, 128)) {
		t.Error("All-zero block not detected")
	}
	b := make([]byte, 128)
	b[64] = 1
	if isZeroBlock(b) {
		t.Error("Non-zero block misdetected")
	}
}
