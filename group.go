// Package procgroup groups processes so that the whole group, including
// descendants the caller never saw, can be torn down at once. Each
// platform realizes the group with its own kernel facility: job objects
// on Windows, cgroups on Linux, and process groups on other unix systems
// (and on Linux when cgroups are unavailable).
package procgroup

import (
	"fmt"
	"runtime"

	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
)

// State describes the lifecycle of a Group. The transition from Open to
// Closed is one-way.
type State int

const (
	Open State = iota
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Group provides a way to logically group processes that should be
// terminated collectively. Implementations are platform-specific.
//
// A Group is not safe for concurrent use; callers must serialize Add and
// Close on a single instance. Distinct groups are independent.
type Group interface {
	// ID returns the name of the group.
	ID() string
	// Add makes the running process identified by pid a member of the
	// group. Processes the member spawns later inherit membership.
	Add(pid int) error
	// Members lists the pids currently in the group.
	Members() ([]int, error)
	// Running reports whether any member of the group is still alive.
	Running() bool
	// State reports whether the group is open or closed.
	State() State
	// Close terminates every member of the group and releases the
	// underlying kernel resources. It is safe to call more than once and
	// never fails observably.
	Close()
}

// backend is the platform resource owned by a group. Implementations must
// not hold a reference to the group that owns them so that an unreachable
// group can still be released.
type backend interface {
	add(pid int) error
	members() ([]int, error)
	running() bool
	release() error
}

type group struct {
	name    string
	state   State
	backend backend
	cleanup runtime.Cleanup
}

// New creates an open Group. Construction is all-or-nothing: on failure
// any kernel resource acquired along the way is released and no group is
// returned.
func New(opts ...OptionProvider) (Group, error) {
	conf, err := makeOptions(opts...)
	if err != nil {
		return nil, err
	}

	b, err := newBackend(conf)
	if err != nil {
		return nil, err
	}

	g := &group{name: conf.Name, backend: b}
	g.cleanup = runtime.AddCleanup(g, releaseUnreachable, unreachableGroup{name: conf.Name, backend: b})

	grip.Debug(message.Fields{
		"message": "created process group",
		"group":   conf.Name,
		"mode":    conf.Mode.String(),
	})

	return g, nil
}

func (g *group) ID() string    { return g.name }
func (g *group) State() State  { return g.state }
func (g *group) Running() bool { return g.state == Open && g.backend.running() }

func (g *group) Add(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("add process %d to group '%s': %w", pid, g.name, ErrInvalidArgument)
	}
	if g.state == Closed {
		return fmt.Errorf("add process %d to group '%s': %w", pid, g.name, ErrInvalidState)
	}

	return g.backend.add(pid)
}

func (g *group) Members() ([]int, error) {
	if g.state == Closed {
		return nil, fmt.Errorf("list members of group '%s': %w", g.name, ErrInvalidState)
	}
	return g.backend.members()
}

func (g *group) Close() {
	if g.state == Closed {
		return
	}
	g.state = Closed
	g.cleanup.Stop()

	releaseBackend(g.name, g.backend)
}

type unreachableGroup struct {
	name    string
	backend backend
}

func releaseUnreachable(ug unreachableGroup) {
	grip.Notice(message.Fields{
		"message": "releasing process group that was never closed",
		"group":   ug.name,
	})
	releaseBackend(ug.name, ug.backend)
}

func releaseBackend(name string, b backend) {
	defer func() {
		if r := recover(); r != nil {
			grip.Warning(message.Fields{
				"message": "panic while releasing process group",
				"group":   name,
				"panic":   fmt.Sprint(r),
			})
		}
	}()

	grip.Warning(message.WrapErrorf(b.release(), "releasing process group '%s'", name))
}
