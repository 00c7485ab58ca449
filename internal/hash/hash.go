// Package hash computes and verifies content digests for migration steps.
// BLAKE3 is used because it is fast enough to re-hash large files at both
// ends of every transfer, which the engine does unconditionally.
package hash

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/franz/disk-janitor/internal/util"
	"lukechampine.com/blake3"
)

const bufferSize = 128 * 1024

// Compute returns the hex-encoded BLAKE3 digest of the file at path.
func Compute(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	r := bufio.NewReaderSize(f, bufferSize)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches reports whether the file at path has the expected digest.
// A missing file is reported as not matching, not as an error.
func Matches(path, expected string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	computed, err := Compute(path)
	if err != nil {
		return false, err
	}

	return equalFold(computed, expected), nil
}

// VerifySourceUnchanged checks that the source file still has the hash
// captured at plan time. A mismatch means the file drifted between
// indexing and execution.
func VerifySourceUnchanged(path, expected string) error {
	ok, err := Matches(path, expected)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s no longer matches plan-time hash %s",
			util.ErrSourceChanged, path, expected)
	}
	return nil
}

// VerifyDestination checks that the destination file has the expected
// hash. The caller must not report a step completed before this passes.
func VerifyDestination(path, expected string) error {
	ok, err := Matches(path, expected)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s does not match expected hash %s",
			util.ErrDestinationMismatch, path, expected)
	}
	return nil
}

// equalFold compares hex digests case-insensitively without allocating
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'F' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'F' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
