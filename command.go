package procgroup

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/tychoish/fun/erc"
)

// Prepare configures cmd so that the process it starts can be torn down
// with its descendants: on unix it leads a new process group, on Windows
// it gets a new console process group. Prepare preserves any other
// attributes already set on cmd.
func Prepare(cmd *exec.Cmd) { prepare(cmd) }

// Start prepares and starts cmd, then adds the new process to the group.
// If the process cannot be added it is killed and reaped before Start
// returns, so a started process never escapes the group.
func Start(g Group, cmd *exec.Cmd) error {
	if g == nil || cmd == nil {
		return errors.New("group and command must not be nil")
	}
	if g.State() == Closed {
		return fmt.Errorf("start %q in group '%s': %w", cmd.Path, g.ID(), ErrInvalidState)
	}

	Prepare(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", cmd.Path, err)
	}

	if err := g.Add(cmd.Process.Pid); err != nil {
		catcher := &erc.Collector{}
		catcher.Push(err)
		catcher.Push(cmd.Process.Kill())
		_ = cmd.Wait()
		return catcher.Resolve()
	}

	return nil
}
