package projects

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats summarizes the resource use of a running project across the
// members of its process group.
type Stats struct {
	ProjectID  string        `json:"project_id" yaml:"project_id"`
	PID        int           `json:"pid" yaml:"pid"`
	Uptime     time.Duration `json:"uptime" yaml:"uptime"`
	Processes  int           `json:"processes" yaml:"processes"`
	CPUPercent float64       `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryRSS  uint64        `json:"memory_rss" yaml:"memory_rss"`
	Watcher    bool          `json:"watcher" yaml:"watcher"`
}

func (m *Manager) Stats(ctx context.Context, id string) (*Stats, error) {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("project %q: %w", id, ErrNotRunning)
	}
	pids, err := rt.group.Members()
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("listing members of project %q: %w", id, err)
	}

	out := &Stats{
		ProjectID: id,
		PID:       rt.cmd.Process.Pid,
		Uptime:    time.Since(rt.started),
		Watcher:   rt.watcher.Load(),
	}

	for _, pid := range pids {
		proc, err := process.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			continue
		}
		out.Processes++

		if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
			out.CPUPercent += cpu
		}
		if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			out.MemoryRSS += mem.RSS
		}
		if !out.Watcher {
			if cmdline, err := proc.CmdlineWithContext(ctx); err == nil && DetectWatcher(cmdline) {
				out.Watcher = true
			}
		}
	}

	return out, nil
}
