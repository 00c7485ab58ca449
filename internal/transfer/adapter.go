// Package transfer provides the copy primitives the executor drives.
// Adapters report completion; byte-for-byte verification is always done
// by the caller re-hashing the destination, never trusted from here.
package transfer

import (
	"context"
	"time"

	"github.com/franz/disk-janitor/internal/util"
)

// Options controls a single copy invocation
type Options struct {
	Checksum       bool          // request adapter-level checksum verification
	PreserveAttrs  bool          // preserve permissions and timestamps
	Sparse         bool          // keep holes in sparse files where supported
	Partial        bool          // keep partial transfers for resume where supported
	BandwidthLimit int64         // bytes per second, 0 = unlimited
	Timeout        time.Duration // bound on the whole transfer, 0 = none
	Retry          *util.RetryConfig
}

// DefaultOptions returns the options the executor uses unless overridden
func DefaultOptions() Options {
	return Options{
		Checksum:      true,
		PreserveAttrs: true,
		Sparse:        true,
		Partial:       true,
	}
}

// Result describes a finished transfer. Verified is set only when the
// adapter itself performed checksum verification; callers re-verify
// independently either way.
type Result struct {
	BytesTransferred int64
	Verified         bool
	Duration         time.Duration
}

// Adapter is a copy primitive for one storage backend
type Adapter interface {
	// Name identifies the backend ("local", "rclone")
	Name() string

	// Copy transfers src to dst. dst is interpreted by the adapter:
	// an absolute path for local backends, a path within the remote
	// for remote backends.
	Copy(ctx context.Context, src, dst string, opts Options) (*Result, error)

	// Remove deletes a file previously written by this adapter
	Remove(ctx context.Context, path string) error
}
