//go:build unix

package procgroup

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/tychoish/fun/adt"
	"github.com/tychoish/fun/erc"
	"golang.org/x/sys/unix"
)

// maxKillRounds bounds how many times teardown rescans a process group
// that it cannot signal as a whole.
const maxKillRounds = 16

// claim records that a process-group backend added pid. Teardown of one
// group never signals a process another group has claimed.
type claim struct {
	pid   int
	owner *processGroups
}

var claims adt.Map[claim, struct{}]

// processGroups realizes a group with unix process groups. A member that
// leads its own process group brings the whole process group into the
// group, which covers the descendants that stay in it. A member that
// joined someone else's process group is tracked, and killed, on its own.
// Teardown never signals the caller's process group.
type processGroups struct {
	name string
	self int
	// groups are the process groups led by members.
	groups map[int]struct{}
	// solo members share a process group they do not lead.
	solo map[int]struct{}
	pids map[int]struct{}
}

func newProcessGroups(name string) *processGroups {
	return &processGroups{
		name:   name,
		self:   unix.Getpgrp(),
		groups: map[int]struct{}{},
		solo:   map[int]struct{}{},
		pids:   map[int]struct{}{},
	}
}

func (p *processGroups) add(pid int) error {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return fmt.Errorf("open process with pid %d: %w: %w", pid, ErrProcessLookup, err)
	}

	switch {
	case pgid == 0 || pgid == 1:
		return fmt.Errorf("assign process with pid %d to group '%s': process group %d cannot be signaled: %w",
			pid, p.name, pgid, ErrAssignment)
	case pgid == pid && pgid != p.self:
		p.groups[pgid] = struct{}{}
	default:
		p.solo[pid] = struct{}{}
	}
	p.pids[pid] = struct{}{}
	claims.Store(claim{pid: pid, owner: p}, struct{}{})

	return nil
}

func (p *processGroups) members() ([]int, error) {
	seen := map[int]struct{}{}
	for pgid := range p.groups {
		for _, pid := range p.groupMembers(pgid) {
			if signalable(pid) {
				seen[pid] = struct{}{}
			}
		}
	}
	for pid := range p.solo {
		if signalable(pid) {
			seen[pid] = struct{}{}
		}
	}

	out := make([]int, 0, len(seen))
	for pid := range seen {
		out = append(out, pid)
	}
	slices.Sort(out)
	return out, nil
}

func (p *processGroups) running() bool {
	for pgid := range p.groups {
		if !signalable(-pgid) {
			continue
		}
		if !p.sharesWithOthers(pgid) {
			return true
		}
		for _, pid := range p.groupMembers(pgid) {
			if signalable(pid) {
				return true
			}
		}
	}
	for pid := range p.solo {
		if signalable(pid) {
			return true
		}
	}
	return false
}

func (p *processGroups) release() error {
	catcher := &erc.Collector{}
	for pgid := range p.groups {
		if p.sharesWithOthers(pgid) {
			catcher.Push(p.killEach(pgid))
			continue
		}
		catcher.Push(kill(-pgid))
	}
	for pid := range p.solo {
		catcher.Push(kill(pid))
	}

	for pid := range p.pids {
		claims.Delete(claim{pid: pid, owner: p})
	}
	clear(p.groups)
	clear(p.solo)
	clear(p.pids)
	return catcher.Resolve()
}

// claimedByOther reports whether another group added pid.
func (p *processGroups) claimedByOther(pid int) bool {
	for c := range claims.Keys() {
		if c.pid == pid && c.owner != p {
			return true
		}
	}
	return false
}

// sharesWithOthers reports whether a process claimed by another group
// lives in the process group pgid.
func (p *processGroups) sharesWithOthers(pgid int) bool {
	for c := range claims.Keys() {
		if c.owner == p {
			continue
		}
		if other, err := unix.Getpgid(c.pid); err == nil && other == pgid {
			return true
		}
	}
	return false
}

// groupMembers lists the processes in pgid that this group owns. When the
// platform cannot enumerate processes, only the leader is reported.
func (p *processGroups) groupMembers(pgid int) []int {
	pids, err := processesIn(pgid)
	if err != nil {
		return []int{pgid}
	}
	return slices.DeleteFunc(pids, p.claimedByOther)
}

// killEach kills the processes of pgid one at a time, sparing those that
// other groups claimed, and rescans to catch processes forked meanwhile.
func (p *processGroups) killEach(pgid int) error {
	signaled := map[int]struct{}{}
	catcher := &erc.Collector{}

	for round := 0; round < maxKillRounds; round++ {
		pids, err := processesIn(pgid)
		if err != nil {
			catcher.Push(err)
			catcher.Push(kill(pgid))
			return catcher.Resolve()
		}

		found := false
		for _, pid := range pids {
			if _, ok := signaled[pid]; ok || p.claimedByOther(pid) {
				continue
			}
			signaled[pid] = struct{}{}
			found = true
			catcher.Push(kill(pid))
		}
		if !found {
			break
		}
	}
	return catcher.Resolve()
}

// processesIn lists every process whose process group is pgid.
func processesIn(pgid int) ([]int, error) {
	all, err := process.Pids()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var out []int
	for _, pid := range all {
		if got, err := unix.Getpgid(int(pid)); err == nil && got == pgid {
			out = append(out, int(pid))
		}
	}
	return out, nil
}

// signalable reports whether target (a pid, or a negated process group
// id) names at least one process.
func signalable(target int) bool {
	err := unix.Kill(target, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func kill(target int) error {
	if err := unix.Kill(target, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killing %d: %w", target, err)
	}
	return nil
}
