//go:build !windows

package projects

import (
	"os/exec"

	"github.com/tychoish/procgroup"
)

// staleGroupMode is used to reap processes left behind by an earlier
// manager. A stale shell still leads its own process group, so signaling
// that group reaches its descendants.
const staleGroupMode = procgroup.ModeProcessGroup

func shellCommand(script string) *exec.Cmd {
	return exec.Command("/bin/sh", "-c", script)
}
