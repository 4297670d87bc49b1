package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

const exitPoll = 20 * time.Millisecond

// WaitForExit polls until the process with the given pid is gone. It is
// meant for processes the test does not parent, such as grandchildren.
func WaitForExit(ctx context.Context, pid int) error {
	ticker := time.NewTicker(exitPoll)
	defer ticker.Stop()
	for {
		if Gone(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("process %d still running: %w", pid, ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitCommand reaps a started command, giving up when ctx expires.
func WaitCommand(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("process %d did not exit: %w", cmd.Process.Pid, ctx.Err())
	}
}
