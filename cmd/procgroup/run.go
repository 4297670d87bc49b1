package main

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
	"github.com/tychoish/procgroup"
	"github.com/urfave/cli/v3"
)

const (
	nameFlagName = "name"
	modeFlagName = "mode"
	modeEnvVar   = "PROCGROUP_MODE"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a command in a new group and kill every process it leaves behind",
		ArgsUsage: "[--] command [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  nameFlagName,
				Usage: "name of the group (generated when empty)",
			},
			&cli.StringFlag{
				Name:    modeFlagName,
				Sources: cli.EnvVars(modeEnvVar),
				Usage:   "group backend: auto, kernel or process-group",
				Value:   procgroup.ModeAuto.String(),
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			args := c.Args().Slice()
			if len(args) == 0 {
				return errors.New("a command to run is required")
			}

			mode, err := procgroup.ParseMode(c.String(modeFlagName))
			if err != nil {
				return err
			}

			code, err := runInGroup(ctx, args, procgroup.OptionName(c.String(nameFlagName)), procgroup.OptionMode(mode))
			if err != nil {
				return err
			}
			if code != 0 {
				return cli.Exit("", code)
			}
			return nil
		},
	}
}

// runInGroup starts args inside a new group, waits for the command, and
// then closes the group. When ctx is canceled first, the group is closed
// while the command is still running. It returns the command's exit code.
func runInGroup(ctx context.Context, args []string, opts ...procgroup.OptionProvider) (int, error) {
	g, err := procgroup.New(opts...)
	if err != nil {
		return 0, err
	}
	defer g.Close()

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// the command gets a process group of its own, which must own the
	// terminal to read from it
	restore := foreground(cmd)
	defer restore()

	if err := procgroup.Start(g, cmd); err != nil {
		return 0, err
	}
	grip.Debug(message.Fields{
		"message": "started command",
		"group":   g.ID(),
		"pid":     cmd.Process.Pid,
		"args":    args,
	})

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		grip.Notice(message.Fields{
			"message": "interrupted, terminating group",
			"group":   g.ID(),
			"cause":   context.Cause(ctx).Error(),
		})
		g.Close()
		err = <-done
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		// killed by a signal
		return 1, nil
	default:
		return 0, err
	}
}
