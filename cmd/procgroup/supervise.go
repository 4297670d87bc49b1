package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tychoish/fun/erc"
	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
	"github.com/tychoish/procgroup/projects"
	"github.com/urfave/cli/v3"
)

const (
	configFlagName    = "config"
	configEnvVar      = "PROCGROUP_CONFIG"
	allFlagName       = "all"
	killStaleFlagName = "kill-stale"
	statsFlagName     = "stats-interval"
	quietFlagName     = "quiet"
)

func superviseCommand() *cli.Command {
	return &cli.Command{
		Name:  "supervise",
		Usage: "start the configured projects and stop them all on exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     configFlagName,
				Aliases:  []string{"c"},
				Sources:  cli.EnvVars(configEnvVar),
				Usage:    "path to the YAML project configuration",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  allFlagName,
				Usage: "start every project rather than only those marked auto_start",
			},
			&cli.BoolFlag{
				Name:  killStaleFlagName,
				Usage: "kill processes left running by an earlier session",
			},
			&cli.DurationFlag{
				Name:  statsFlagName,
				Usage: "log resource usage of running projects at this interval (0 disables)",
			},
			&cli.BoolFlag{
				Name:  quietFlagName,
				Usage: "do not copy project output to stdout",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			conf, err := projects.LoadConfig(c.String(configFlagName))
			if err != nil {
				return err
			}

			var out io.Writer = os.Stdout
			if c.Bool(quietFlagName) {
				out = io.Discard
			}

			return supervise(ctx, conf, superviseOptions{
				all:       c.Bool(allFlagName),
				killStale: c.Bool(killStaleFlagName),
				stats:     c.Duration(statsFlagName),
				output:    out,
			})
		},
	}
}

type superviseOptions struct {
	all       bool
	killStale bool
	stats     time.Duration
	output    io.Writer
}

// supervise runs the projects of conf until ctx is canceled, then stops
// all of them.
func supervise(ctx context.Context, conf *projects.Config, opts superviseOptions) error {
	m, err := projects.NewManager(conf)
	if err != nil {
		return err
	}
	defer m.Close(context.Background())

	defer m.OnStatusChange(func(e projects.StatusEvent) {
		grip.Info(message.Fields{
			"message": "project status",
			"project": e.ProjectID,
			"status":  e.Status,
			"pid":     e.PID,
			"detail":  e.Message,
		})
	})()
	defer m.OnLog(func(e projects.LogEntry) {
		if e.Type == projects.LogStdout || e.Type == projects.LogStderr {
			fmt.Fprintf(opts.output, "[%s] %s\n", e.ProjectID, e.Data)
		}
	})()

	stale, err := m.CheckStale(ctx)
	if err != nil {
		return err
	}
	catcher := &erc.Collector{}
	for _, e := range stale {
		if e.Status != projects.StatusZombie {
			continue
		}
		if !opts.killStale {
			grip.Warning(message.Fields{
				"message": "process from an earlier session is still running",
				"project": e.ProjectID,
				"pid":     e.PID,
			})
			continue
		}
		catcher.Push(m.KillStale(ctx, e.ProjectID))
	}

	if opts.all {
		catcher.Push(m.StartAll(ctx))
	} else {
		catcher.Push(m.StartAutoStart(ctx))
	}
	grip.Warning(message.WrapError(catcher.Resolve(), "some projects could not be started"))

	if opts.stats > 0 {
		go reportStats(ctx, m, opts.stats)
	}

	<-ctx.Done()

	// ctx is already canceled; stopping gets a fresh one bounded by the
	// manager's own per-project timeouts
	return m.Close(context.Background())
}

func reportStats(ctx context.Context, m *projects.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, id := range m.Running() {
			stats, err := m.Stats(ctx, id)
			if err != nil {
				continue
			}
			grip.Info(message.Fields{
				"message":   "project stats",
				"project":   stats.ProjectID,
				"pid":       stats.PID,
				"uptime":    stats.Uptime.Round(time.Second).String(),
				"processes": stats.Processes,
				"cpu":       stats.CPUPercent,
				"rss":       stats.MemoryRSS,
				"watcher":   stats.Watcher,
			})
		}
	}
}
