//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package main

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/tychoish/fun/assert"
	"github.com/tychoish/fun/assert/check"
	"github.com/tychoish/procgroup/testutil"
)

// withStdin replaces os.Stdin with the read end of a pipe holding data.
func withStdin(t *testing.T, data string) {
	t.Helper()
	r, w, err := os.Pipe()
	assert.NotError(t, err)
	_, err = w.WriteString(data)
	assert.NotError(t, err)
	assert.NotError(t, w.Close())

	stdin := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = stdin
		_ = r.Close()
	})
}

func TestForeground(t *testing.T) {
	t.Run("OtherStdinIsUntouched", func(t *testing.T) {
		cmd := exec.Command("true")
		foreground(cmd)()
		check.True(t, cmd.SysProcAttr == nil)
	})
	t.Run("NonTerminalStdinIsUntouched", func(t *testing.T) {
		withStdin(t, "")
		cmd := exec.Command("true")
		cmd.Stdin = os.Stdin
		foreground(cmd)()
		check.True(t, cmd.SysProcAttr == nil)
	})
	t.Run("CommandReadsStdin", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), testutil.TestTimeout)
		defer cancel()

		withStdin(t, "hello\n")
		t.Setenv(testutil.HelperEnvVar, testutil.HelperEcho)
		code, err := runInGroup(ctx, []string{os.Args[0], "-test.run=^$"})
		assert.NotError(t, err)
		check.Equal(t, code, 0)
	})
}
