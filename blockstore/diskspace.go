package blockstore

import "syscall"

// freeDiskPercent reports the percentage of free space on the
// filesystem backing dir. There is no ecosystem library in the example
// pack for this (no example repo reads filesystem statistics), so this
// is one of the few spots that reaches directly for syscall rather than
// a third-party wrapper.
func freeDiskPercent(dir string) (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	if stat.Blocks == 0 {
		return 100, nil
	}
	free := float64(stat.Bavail) / float64(stat.Blocks) * 100
	return free, nil
}
