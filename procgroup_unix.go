//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

package taskmaster

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// newProcAttrDetached puts every spawned child in its own process
// group, so killProcessGroup can reach grandchildren a plain
// Process.Kill would miss (a common escape hatch for wrapper scripts).
func newProcAttrDetached() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends sig to every process in pid's process group.
func killProcessGroup(pid int, sig syscall.Signal) error {
	return unix.Kill(-pid, sig)
}
