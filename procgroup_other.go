//go:build windows || plan9 || js || wasip1

package taskmaster

import (
	"errors"
	"syscall"
)

func newProcAttrDetached() *syscall.SysProcAttr { return nil }

var errNoProcessGroups = errors.New("process groups not supported on this platform")

// killProcessGroup has no portable equivalent on these platforms;
// callers fall back to signaling the process directly.
func killProcessGroup(pid int, sig syscall.Signal) error { return errNoProcessGroups }
