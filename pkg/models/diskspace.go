package models

import "syscall"

// availableDiskBytes reports the free space available to an unprivileged
// user on the filesystem containing path. No library in the examples pack
// wraps statfs(2); this one call is small enough to keep on the standard
// library rather than pull in a dependency for it.
func availableDiskBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
