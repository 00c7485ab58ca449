// Package space implements the free-space guard for batch admission.
//
// The headroom rule: a batch may be admitted only when committing it would
// leave at least half of the destination's current free space untouched,
// i.e. batch_bytes <= free_bytes / 2.
package space

import (
	"fmt"
	"os"

	"github.com/franz/disk-janitor/internal/util"
	"golang.org/x/sys/unix"
)

const safetyHeadroom = 0.50

// Info holds free-space figures for a mounted filesystem
type Info struct {
	TotalBytes     uint64
	FreeBytes      uint64
	UsedBytes      uint64
	AvailableBytes uint64
}

// MaxSafeWriteBytes returns the largest batch the headroom rule admits
func (i Info) MaxSafeWriteBytes() uint64 {
	maxUse := uint64(float64(i.FreeBytes) * safetyHeadroom)
	if maxUse > i.AvailableBytes {
		return i.AvailableBytes
	}
	return maxUse
}

// CanSafelyWrite reports whether bytes fits within the headroom rule
func (i Info) CanSafelyWrite(bytes uint64) bool {
	return bytes <= i.MaxSafeWriteBytes()
}

// ExceedsCapacity reports whether bytes is larger than the whole device.
// Such a write can never succeed regardless of headroom.
func (i Info) ExceedsCapacity(bytes uint64) bool {
	return bytes > i.TotalBytes
}

// GetFreeSpace returns free-space figures for the filesystem holding path
func GetFreeSpace(path string) (Info, error) {
	if _, err := os.Stat(path); err != nil {
		return Info{}, fmt.Errorf("cannot stat %s: %w", path, err)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Info{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	blockSize := uint64(stat.Bsize)
	total := stat.Blocks * blockSize
	free := stat.Bfree * blockSize
	available := stat.Bavail * blockSize

	return Info{
		TotalBytes:     total,
		FreeBytes:      free,
		UsedBytes:      total - free,
		AvailableBytes: available,
	}, nil
}

// VerifySufficient fails with ErrInsufficientSpace when required bytes
// cannot be safely written to the filesystem holding path.
func VerifySufficient(path string, required uint64) error {
	info, err := GetFreeSpace(path)
	if err != nil {
		return err
	}

	if !info.CanSafelyWrite(required) {
		return fmt.Errorf("%w: %d bytes required, %d safely writable at %s",
			util.ErrInsufficientSpace, required, info.MaxSafeWriteBytes(), path)
	}

	return nil
}
