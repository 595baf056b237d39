//go:build windows || plan9 || js || wasip1

package taskmaster

// applyUmask is a no-op on platforms without a process umask; per
// spec.md §4.1, umask is simply ignored there.
func applyUmask(umask int) int { return 0 }

func restoreUmask(old int) {}
