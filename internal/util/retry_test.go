package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
	}
}

func TestRetryWithBackoffSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0

	result, err := RetryWithBackoff(fastRetryConfig(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", syscall.EIO
		}
		return "ok", nil
	}, "test-op")

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if result != "ok" {
		t.Errorf("Expected ok, got %q", result)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithBackoffNonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	permanent := errors.New("permission denied by policy")

	_, err := RetryWithBackoff(fastRetryConfig(), func() (int, error) {
		attempts++
		return 0, permanent
	}, "test-op")

	if !errors.Is(err, permanent) {
		t.Fatalf("Expected the permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Non-retryable error should not be retried, got %d attempts", attempts)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	attempts := 0

	_, err := RetryWithBackoff(fastRetryConfig(), func() (int, error) {
		attempts++
		return 0, syscall.ETIMEDOUT
	}, "test-op")

	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if !errors.Is(err, syscall.ETIMEDOUT) {
		t.Errorf("Final error should wrap the cause, got %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eio", syscall.EIO, true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"timeout message", errors.New("operation timed out"), true},
		{"path error wrapping eagain", &os.PathError{Op: "open", Path: "/x", Err: syscall.EAGAIN}, true},
		{"not exist", os.ErrNotExist, false},
		{"plain", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNoRetryConfig(t *testing.T) {
	attempts := 0

	_, err := RetryWithBackoff(NoRetryConfig(), func() (int, error) {
		attempts++
		return 0, syscall.EIO
	}, "test-op")

	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 1 {
		t.Errorf("NoRetryConfig must attempt exactly once, got %d", attempts)
	}
}

func TestRetryableFileHelpers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.txt")

	if err := RetryableMkdirAll(filepath.Dir(path), 0755, NoRetryConfig()); err != nil {
		t.Fatalf("RetryableMkdirAll failed: %v", err)
	}

	f, err := RetryableCreate(path, NoRetryConfig())
	if err != nil {
		t.Fatalf("RetryableCreate failed: %v", err)
	}
	fmt.Fprint(f, "content")
	f.Close()

	info, err := RetryableStat(path, NoRetryConfig())
	if err != nil {
		t.Fatalf("RetryableStat failed: %v", err)
	}
	if info.Size() != 7 {
		t.Errorf("Expected size 7, got %d", info.Size())
	}

	moved := filepath.Join(dir, "moved.txt")
	if err := RetryableRename(path, moved, NoRetryConfig()); err != nil {
		t.Fatalf("RetryableRename failed: %v", err)
	}

	if err := RetryableRemove(moved, NoRetryConfig()); err != nil {
		t.Fatalf("RetryableRemove failed: %v", err)
	}
	if _, err := os.Stat(moved); !os.IsNotExist(err) {
		t.Error("File still exists after remove")
	}
}
