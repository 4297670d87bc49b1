package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/tychoish/fun/assert"
	"github.com/tychoish/fun/assert/check"
	"github.com/tychoish/procgroup"
	"github.com/tychoish/procgroup/projects"
	"github.com/tychoish/procgroup/testutil"
)

func TestMain(m *testing.M) {
	testutil.RunHelper()
	os.Exit(m.Run())
}

func TestApp(t *testing.T) {
	for name, testCase := range map[string]func(context.Context, *testing.T){
		"RunRequiresCommand": func(ctx context.Context, t *testing.T) {
			err := newApp().Run(ctx, []string{"procgroup", "run"})
			assert.Error(t, err)
			check.Substring(t, err.Error(), "command")
		},
		"RunRejectsMode": func(ctx context.Context, t *testing.T) {
			err := newApp().Run(ctx, []string{"procgroup", "run", "--mode", "sideways", "--", os.Args[0]})
			check.Error(t, err)
		},
		"RunHelperToCompletion": func(ctx context.Context, t *testing.T) {
			t.Setenv(testutil.HelperEnvVar, testutil.HelperExit)
			check.NotError(t, newApp().Run(ctx, []string{"procgroup", "run", "--", os.Args[0], "-test.run=^$"}))
		},
		"InvalidLevel": func(ctx context.Context, t *testing.T) {
			err := newApp().Run(ctx, []string{"procgroup", "--level", "loud", "run", "--", os.Args[0]})
			assert.Error(t, err)
			check.Substring(t, err.Error(), "log level")
		},
		"SuperviseRequiresConfig": func(ctx context.Context, t *testing.T) {
			check.Error(t, newApp().Run(ctx, []string{"procgroup", "supervise"}))
		},
		"SuperviseMissingConfig": func(ctx context.Context, t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.yaml")
			check.Error(t, newApp().Run(ctx, []string{"procgroup", "supervise", "--config", path}))
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), testutil.TestTimeout)
			defer cancel()
			testCase(ctx, t)
		})
	}
}

func TestRunInGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testutil.TestTimeout)
	defer cancel()

	t.Run("ExitCode", func(t *testing.T) {
		t.Setenv(testutil.HelperEnvVar, "unknown-mode")
		code, err := runInGroup(ctx, []string{os.Args[0], "-test.run=^$"})
		assert.NotError(t, err)
		check.Equal(t, code, 4)
	})
	t.Run("CanceledContextTearsDown", func(t *testing.T) {
		t.Setenv(testutil.HelperEnvVar, testutil.HelperSleep)
		rctx, rcancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer rcancel()

		start := time.Now()
		_, err := runInGroup(rctx, []string{os.Args[0], "-test.run=^$"}, procgroup.OptionName("procgroup-cli-test"))
		assert.NotError(t, err)
		check.True(t, time.Since(start) < testutil.ExitTimeout)
	})
	t.Run("MissingExecutable", func(t *testing.T) {
		_, err := runInGroup(ctx, []string{filepath.Join(t.TempDir(), "absent")})
		check.Error(t, err)
	})
}

func TestSupervise(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("helper scripts are split with posix shell rules")
	}

	shell := false
	conf := &projects.Config{
		StateFile: filepath.Join(t.TempDir(), "state.yaml"),
		Projects: []projects.Project{
			{
				ID:        "sleep",
				Path:      ".",
				Script:    "'" + os.Args[0] + "' -test.run=^$",
				Shell:     &shell,
				Env:       map[string]string{testutil.HelperEnvVar: testutil.HelperSleep},
				AutoStart: true,
			},
			{
				ID:        "fail",
				Path:      ".",
				Script:    "'" + os.Args[0] + "' -test.run=^$",
				Shell:     &shell,
				Env:       map[string]string{testutil.HelperEnvVar: "unknown-mode"},
				AutoStart: true,
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out := &testutil.Buffer{}
	check.NotError(t, supervise(ctx, conf, superviseOptions{output: out, stats: 50 * time.Millisecond}))
	check.Contains(t, out.Lines(), `[fail] unknown helper mode "unknown-mode"`)

	store, err := projects.OpenStateStore(conf.StateFile)
	assert.NotError(t, err)
	check.Equal(t, len(store.All()), 0)
}
