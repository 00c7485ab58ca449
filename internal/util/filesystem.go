package util

import (
	"os"
	"syscall"
)

// IsSameFilesystem checks if two paths are on the same filesystem by
// comparing their device IDs. A move between paths on the same device
// can use rename instead of copy+delete.
func IsSameFilesystem(path1, path2 string) (bool, error) {
	stat1, err := os.Stat(path1)
	if err != nil {
		return false, err
	}

	stat2, err := os.Stat(path2)
	if err != nil {
		return false, err
	}

	sysStat1, ok1 := stat1.Sys().(*syscall.Stat_t)
	sysStat2, ok2 := stat2.Sys().(*syscall.Stat_t)

	if !ok1 || !ok2 {
		// Assume different filesystems when unsure
		return false, nil
	}

	return sysStat1.Dev == sysStat2.Dev, nil
}
