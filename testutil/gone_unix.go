//go:build unix

package testutil

import (
	"errors"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Gone reports whether the process no longer exists. A zombie that nobody
// has reaped yet counts as gone.
func Gone(pid int) bool {
	if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
		return true
	}

	proc, err := process.NewProcess(int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return true
	}
	if err != nil {
		return false
	}

	status, err := proc.Status()
	if err != nil {
		return false
	}
	return slices.Contains(status, process.Zombie)
}
