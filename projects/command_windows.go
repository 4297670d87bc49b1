package projects

import (
	"os"
	"os/exec"

	"github.com/tychoish/procgroup"
)

const staleGroupMode = procgroup.ModeAuto

func shellCommand(script string) *exec.Cmd {
	shell := os.Getenv("ComSpec")
	if shell == "" {
		shell = "cmd.exe"
	}
	return exec.Command(shell, "/C", script)
}
