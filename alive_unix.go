//go:build unix

package procgroup

// Alive reports whether a process with the given pid exists. Zombies that
// have not been reaped count as alive.
func Alive(pid int) bool {
	return pid > 0 && signalable(pid)
}
