package projects

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/google/shlex"
)

// colorEnv asks common tools to keep colored output when writing to a
// pipe.
var colorEnv = []string{
	"TERM=xterm-256color",
	"COLORTERM=truecolor",
	"FORCE_COLOR=1",
	"NPM_CONFIG_COLOR=always",
}

func buildCommand(p *Project) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if p.UseShell() {
		cmd = shellCommand(p.Script)
	} else {
		args, err := shlex.Split(p.Script)
		if err != nil {
			return nil, fmt.Errorf("parsing script for project %q: %w", p.ID, err)
		}
		if len(args) == 0 {
			return nil, errors.New("script is empty")
		}
		cmd = exec.Command(args[0], args[1:]...)
	}

	cmd.Dir = p.Path
	cmd.Env = os.Environ()
	for k, v := range p.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, colorEnv...)

	return cmd, nil
}
