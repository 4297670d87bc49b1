//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package main

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// foreground hands the terminal on stdin to the process group of cmd, so
// that a child in a group of its own can still read from the terminal.
// It only applies when this process owns the terminal's foreground. The
// returned function gives the terminal back and must be called after cmd
// exits.
func foreground(cmd *exec.Cmd) func() {
	fd := int(os.Stdin.Fd())
	if cmd.Stdin != os.Stdin || !term.IsTerminal(fd) {
		return func() {}
	}

	self := unix.Getpgrp()
	owner, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	if err != nil || owner != self {
		return func() {}
	}

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Foreground = true
	cmd.SysProcAttr.Ctty = fd

	return func() {
		// a background process that sets the foreground group is sent
		// SIGTTOU unless it ignores it
		signal.Ignore(syscall.SIGTTOU)
		defer signal.Reset(syscall.SIGTTOU)

		grip.Warning(message.WrapError(unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, self), message.Fields{
			"message": "could not reclaim the terminal",
			"pgid":    self,
		}))
	}
}
