// Package testutil provides fixtures shared by the tests of procgroup and
// its subpackages. Tests re-execute their own binary as a helper process
// so that the children they manage behave identically on every platform.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// HelperEnvVar selects the helper mode when a test binary re-executes
// itself.
const HelperEnvVar = "PROCGROUP_TEST_HELPER"

const (
	// HelperSleep sleeps until killed.
	HelperSleep = "sleep"
	// HelperSpawn waits for a line on stdin, starts a HelperSleep child
	// of its own, prints the child's pid on stdout, then sleeps.
	HelperSpawn = "spawn"
	// HelperEcho copies stdin lines to stdout until stdin closes.
	HelperEcho = "echo"
	// HelperExit exits immediately.
	HelperExit = "exit"
	// HelperLongLine writes a single line of two megabytes, then a
	// short line, then exits.
	HelperLongLine = "long-line"
)

const helperLifetime = 5 * time.Minute

// HelperCommand builds a command that re-executes the running test binary
// in the given helper mode.
func HelperCommand(mode string) *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), HelperEnvVar+"="+mode)
	return cmd
}

// RunHelper must be called at the top of TestMain. When the binary was
// started as a helper it performs the helper's work and exits the process;
// otherwise it returns immediately.
func RunHelper() {
	mode, ok := os.LookupEnv(HelperEnvVar)
	if !ok {
		return
	}

	switch mode {
	case HelperSleep:
		time.Sleep(helperLifetime)
	case HelperSpawn:
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
			os.Exit(2)
		}
		child := HelperCommand(HelperSleep)
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(3)
		}
		fmt.Println(child.Process.Pid)
		time.Sleep(helperLifetime)
	case HelperExit:
	case HelperLongLine:
		fmt.Println(strings.Repeat("x", 2<<20))
		fmt.Println("after")
	case HelperEcho:
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", mode)
		os.Exit(4)
	}

	os.Exit(0)
}
