package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/disk-janitor/internal/util"
)

const defaultBufferSize = 128 * 1024

// Local copies files on mounted filesystems. Writes go to a .part
// temporary first and are renamed into place only after a successful
// copy, so a crash never leaves a plausible-looking destination file.
type Local struct {
	bufferSize int
}

// NewLocal creates a local transfer adapter
func NewLocal() *Local {
	return &Local{bufferSize: defaultBufferSize}
}

// Name identifies the backend
func (l *Local) Name() string {
	return "local"
}

// Copy copies src to dst atomically
func (l *Local) Copy(ctx context.Context, src, dst string, opts Options) (*Result, error) {
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	srcInfo, err := util.RetryableStat(src, opts.Retry)
	if err != nil {
		return nil, fmt.Errorf("%w: stat source: %v", util.ErrTransferFailed, err)
	}

	if err := util.RetryableMkdirAll(filepath.Dir(dst), 0755, opts.Retry); err != nil {
		return nil, fmt.Errorf("%w: create destination directory: %v", util.ErrTransferFailed, err)
	}

	srcFile, err := util.RetryableOpen(src, opts.Retry)
	if err != nil {
		return nil, fmt.Errorf("%w: open source: %v", util.ErrTransferFailed, err)
	}
	defer srcFile.Close()

	tempPath := dst + ".part"
	dstFile, err := util.RetryableCreate(tempPath, opts.Retry)
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %v", util.ErrTransferFailed, err)
	}

	written, err := l.copyLoop(ctx, dstFile, srcFile, srcInfo.Size(), opts)
	if err == nil {
		err = dstFile.Sync()
	}
	closeErr := dstFile.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		util.RetryableRemove(tempPath, opts.Retry)
		return nil, fmt.Errorf("%w: %v", util.ErrTransferFailed, err)
	}

	if opts.PreserveAttrs {
		if err := os.Chmod(tempPath, srcInfo.Mode().Perm()); err != nil {
			util.WarnLog("Failed to preserve mode on %s: %v", dst, err)
		}
		if err := os.Chtimes(tempPath, time.Now(), srcInfo.ModTime()); err != nil {
			util.WarnLog("Failed to preserve mtime on %s: %v", dst, err)
		}
	}

	if err := util.RetryableRename(tempPath, dst, opts.Retry); err != nil {
		util.RetryableRemove(tempPath, opts.Retry)
		return nil, fmt.Errorf("%w: rename into place: %v", util.ErrTransferFailed, err)
	}

	util.DebugLog("Copied: %s -> %s (%d bytes)", src, dst, written)

	return &Result{
		BytesTransferred: written,
		Verified:         false,
		Duration:         time.Since(start),
	}, nil
}

// Remove deletes a local file
func (l *Local) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return util.RetryableRemove(path, util.DefaultRetryConfig())
}

// copyLoop copies with cancellation, optional throttling and sparse-hole
// preservation. Zero-filled buffers are seeked over instead of written
// when Sparse is set; the trailing truncate fixes up the final size.
func (l *Local) copyLoop(ctx context.Context, dst *os.File, src io.Reader, size int64, opts Options) (int64, error) {
	bufSize := l.bufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	buf := make([]byte, bufSize)

	var written int64
	var windowStart = time.Now()
	var windowBytes int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, er := src.Read(buf)
		if nr > 0 {
			if opts.Sparse && isZeroBlock(buf[:nr]) {
				if _, err := dst.Seek(int64(nr), io.SeekCurrent); err != nil {
					return written, err
				}
				written += int64(nr)
			} else {
				nw, ew := dst.Write(buf[:nr])
				written += int64(nw)
				if ew != nil {
					return written, ew
				}
				if nw != nr {
					return written, io.ErrShortWrite
				}
			}

			if opts.BandwidthLimit > 0 {
				windowBytes += int64(nr)
				expected := time.Duration(float64(windowBytes) / float64(opts.BandwidthLimit) * float64(time.Second))
				if elapsed := time.Since(windowStart); elapsed < expected {
					time.Sleep(expected - elapsed)
				}
			}
		}
		if er != nil {
			if er != io.EOF {
				return written, er
			}
			break
		}
	}

	if opts.Sparse && written == size {
		if err := dst.Truncate(size); err != nil {
			return written, err
		}
	}

	return written, nil
}

func isZeroBlock(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
