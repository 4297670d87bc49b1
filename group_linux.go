//go:build linux

package procgroup

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/containerd/cgroups/v3"
	"github.com/containerd/cgroups/v3/cgroup1"
	"github.com/containerd/cgroups/v3/cgroup2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/tychoish/fun/erc"
	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
	"golang.org/x/sys/unix"
)

const (
	unifiedMountpoint = "/sys/fs/cgroup"

	// cgroupDrainTimeout bounds how long teardown waits for killed
	// members to leave the cgroup before removing it.
	cgroupDrainTimeout = 5 * time.Second
	cgroupDrainPoll    = 10 * time.Millisecond
)

// newBackend creates a cgroup for the group when the host supports it.
// Creating cgroups requires privileges; in ModeAuto a failure falls back
// to tracking unix process groups.
func newBackend(conf *Options) (backend, error) {
	if conf.Mode == ModeProcessGroup {
		return newProcessGroups(conf.Name), nil
	}

	b, err := newCgroup(conf.Name)
	if err == nil {
		return b, nil
	}
	if conf.Mode == ModeKernel {
		return nil, fmt.Errorf("create cgroup for group '%s': %w: %w", conf.Name, ErrResourceCreation, err)
	}

	grip.Debug(message.WrapErrorf(err, "could not create cgroup for group '%s', using process groups", conf.Name))
	return newProcessGroups(conf.Name), nil
}

func newCgroup(name string) (backend, error) {
	switch cgroups.Mode() {
	case cgroups.Unified:
		return newCgroupV2(name)
	case cgroups.Legacy, cgroups.Hybrid:
		return newCgroupV1(name)
	default:
		return nil, errors.New("cgroups are not available on this host")
	}
}

// processExists resolves a pid before it is written to a cgroup, since
// the kernel reports a missing process and a refused move the same way.
func processExists(pid int) error {
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return fmt.Errorf("open process with pid %d: %w: %w", pid, ErrProcessLookup, err)
	}
	return nil
}

func waitForDrain(list func() ([]int, error)) error {
	timer := time.NewTimer(cgroupDrainTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(cgroupDrainPoll)
	defer ticker.Stop()

	for {
		pids, err := list()
		if err != nil {
			return err
		}
		if len(pids) == 0 {
			return nil
		}

		select {
		case <-timer.C:
			return fmt.Errorf("%d processes still running after %s", len(pids), cgroupDrainTimeout)
		case <-ticker.C:
		}
	}
}

////////////////////////////////////////////////////////////////////////
//
// cgroup v2

type cgroupV2 struct {
	name    string
	manager *cgroup2.Manager
}

func newCgroupV2(name string) (*cgroupV2, error) {
	manager, err := cgroup2.NewManager(unifiedMountpoint, "/"+name, &cgroup2.Resources{})
	if err != nil {
		return nil, fmt.Errorf("could not create cgroup v2 '%s': %w", name, err)
	}
	return &cgroupV2{name: name, manager: manager}, nil
}

func (c *cgroupV2) add(pid int) error {
	if err := processExists(pid); err != nil {
		return err
	}
	if err := c.manager.AddProc(uint64(pid)); err != nil {
		return fmt.Errorf("assign process with pid %d to group '%s': %w: %w", pid, c.name, ErrAssignment, err)
	}
	return nil
}

func (c *cgroupV2) members() ([]int, error) {
	procs, err := c.manager.Procs(true)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("list members of group '%s': %w", c.name, err)
	}

	pids := make([]int, 0, len(procs))
	for _, pid := range procs {
		pids = append(pids, int(pid))
	}
	slices.Sort(pids)
	return pids, nil
}

func (c *cgroupV2) running() bool {
	pids, err := c.members()
	return err == nil && len(pids) > 0
}

func (c *cgroupV2) release() error {
	catcher := &erc.Collector{}
	catcher.Push(c.manager.Kill())
	catcher.Push(waitForDrain(c.members))
	catcher.Push(c.manager.Delete())
	return catcher.Resolve()
}

////////////////////////////////////////////////////////////////////////
//
// cgroup v1

// defaultSubsystem is where members are tracked on v1 hierarchies. The
// freezer lets teardown stop the members from forking while they are
// being killed.
const defaultSubsystem = cgroup1.Freezer

type cgroupV1 struct {
	name   string
	cgroup cgroup1.Cgroup
}

func freezerHierarchy() ([]cgroup1.Subsystem, error) {
	subsystems, err := cgroup1.Default()
	if err != nil {
		return nil, err
	}
	for _, s := range subsystems {
		if s.Name() == defaultSubsystem {
			return []cgroup1.Subsystem{s}, nil
		}
	}
	return nil, errors.New("freezer subsystem is not mounted")
}

func newCgroupV1(name string) (*cgroupV1, error) {
	cgroup, err := cgroup1.New(
		cgroup1.StaticPath("/"+name),
		&specs.LinuxResources{},
		cgroup1.WithHierarchy(freezerHierarchy),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create cgroup v1 '%s': %w", name, err)
	}
	return &cgroupV1{name: name, cgroup: cgroup}, nil
}

func (c *cgroupV1) valid() bool {
	return c.cgroup != nil && c.cgroup.State() != cgroup1.Deleted
}

func (c *cgroupV1) add(pid int) error {
	if err := processExists(pid); err != nil {
		return err
	}
	if err := c.cgroup.Add(cgroup1.Process{Subsystem: defaultSubsystem, Pid: pid}); err != nil {
		return fmt.Errorf("assign process with pid %d to group '%s': %w: %w", pid, c.name, ErrAssignment, err)
	}
	return nil
}

func (c *cgroupV1) members() ([]int, error) {
	if !c.valid() {
		return []int{}, nil
	}

	procs, err := c.cgroup.Processes(defaultSubsystem, true)
	if err != nil {
		return nil, fmt.Errorf("list members of group '%s': %w", c.name, err)
	}

	pids := make([]int, 0, len(procs))
	for _, proc := range procs {
		pids = append(pids, proc.Pid)
	}
	slices.Sort(pids)
	return pids, nil
}

func (c *cgroupV1) running() bool {
	pids, err := c.members()
	return err == nil && len(pids) > 0
}

func (c *cgroupV1) release() error {
	if !c.valid() {
		return nil
	}

	catcher := &erc.Collector{}
	catcher.Push(c.cgroup.Freeze())

	pids, err := c.members()
	catcher.Push(err)
	for _, pid := range pids {
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			catcher.Push(fmt.Errorf("killing process with pid %d: %w", pid, err))
		}
	}

	catcher.Push(c.cgroup.Thaw())
	catcher.Push(waitForDrain(c.members))
	catcher.Push(c.cgroup.Delete())
	return catcher.Resolve()
}
