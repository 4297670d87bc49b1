package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/tychoish/grip"
	"github.com/tychoish/grip/level"
	"github.com/urfave/cli/v3"
)

const (
	levelFlagName = "level"
	levelEnvVar   = "PROCGROUP_LOG_LEVEL"
)

var levels = map[string]level.Priority{
	"trace":     level.Trace,
	"debug":     level.Debug,
	"info":      level.Info,
	"notice":    level.Notice,
	"warning":   level.Warning,
	"error":     level.Error,
	"critical":  level.Critical,
	"alert":     level.Alert,
	"emergency": level.Emergency,
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "procgroup",
		Usage: "run and supervise commands in process groups that are torn down as a unit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    levelFlagName,
				Sources: cli.EnvVars(levelEnvVar),
				Usage:   "minimum priority of log messages",
				Value:   "info",
			},
		},
		Before: setLogLevel,
		Commands: []*cli.Command{
			runCommand(),
			superviseCommand(),
		},
	}
}

func setLogLevel(ctx context.Context, c *cli.Command) (context.Context, error) {
	name := c.String(levelFlagName)
	priority, ok := levels[strings.ToLower(name)]
	if !ok {
		return ctx, fmt.Errorf("%q is not a valid log level", name)
	}

	sender := grip.Sender()
	sender.SetPriority(priority)
	grip.SetSender(sender)
	return ctx, nil
}
