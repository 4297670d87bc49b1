// Package projects supervises long-running project commands. Each run of
// a project is started inside its own procgroup.Group, so stopping a
// project tears down every process the command spawned.
package projects

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tychoish/fun/erc"
	"github.com/tychoish/fun/pubsub"
	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
	"github.com/tychoish/procgroup"
)

const (
	watcherPollInterval = 500 * time.Millisecond
	maxLogLineSize      = 1024 * 1024
)

type runtimeState struct {
	project *Project
	group   procgroup.Group
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started time.Time
	watcher atomic.Bool

	// stopping is set by Stop, under the manager's lock, before the
	// group is closed.
	stopping bool
	exited   chan struct{}
}

// Manager starts, stops and observes the projects of a Config. A Manager
// is safe for concurrent use. Callers must call Close when they are done
// with it.
type Manager struct {
	conf  *Config
	store *StateStore

	// ctx bounds event delivery; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	runtimes map[string]*runtimeState
	logs     map[string]*logHistory

	status *pubsub.Broker[StatusEvent]
	output *pubsub.Broker[LogEntry]
}

// NewManager validates conf and opens its state store.
func NewManager(conf *Config) (*Manager, error) {
	if conf == nil {
		return nil, errors.New("config must not be nil")
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := OpenStateStore(conf.StateFile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		conf:     conf,
		store:    store,
		ctx:      ctx,
		cancel:   cancel,
		runtimes: map[string]*runtimeState{},
		logs:     map[string]*logHistory{},
		status:   pubsub.NewBroker[StatusEvent](ctx, pubsub.BrokerOptions{}),
		output:   pubsub.NewBroker[LogEntry](ctx, pubsub.BrokerOptions{}),
	}, nil
}

// Close stops every running project and then shuts down event delivery,
// ending all OnStatusChange and OnLog registrations.
func (m *Manager) Close(ctx context.Context) error {
	err := m.StopAll(ctx)

	m.status.Stop()
	m.output.Stop()
	m.cancel()
	m.status.Wait(ctx)
	m.output.Wait(ctx)

	return err
}

func (m *Manager) Config() *Config { return m.conf }

// OnStatusChange registers fn to receive status events, in order, on a
// goroutine of its own. The returned function removes the registration.
// fn must not call back into the Manager.
func (m *Manager) OnStatusChange(fn func(StatusEvent)) func() {
	return subscribe(m.ctx, m.status, fn)
}

// OnLog registers fn to receive every log entry as it is recorded. It
// follows the same rules as OnStatusChange.
func (m *Manager) OnLog(fn func(LogEntry)) func() { return subscribe(m.ctx, m.output, fn) }

// Start runs the project's script inside a new process group.
func (m *Manager) Start(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	project, err := m.conf.Project(id)
	if err != nil {
		return err
	}

	rt, err := m.start(project)
	if err != nil {
		m.log(id, LogError, fmt.Sprintf("failed to start: %v", err))
		return err
	}

	pid := rt.cmd.Process.Pid
	m.log(id, LogSystem, fmt.Sprintf("started %q (pid %d)", project.Script, pid))
	m.status.Publish(m.ctx, StatusEvent{
		ProjectID: id,
		Status:    StatusRunning,
		PID:       pid,
		StartTime: rt.started,
	})

	// the exit of the shell is observed only after the running event so
	// that subscribers see events in order
	go m.wait(rt)
	return nil
}

func (m *Manager) start(project *Project) (*runtimeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runtimes[project.ID]; ok {
		return nil, fmt.Errorf("project %q: %w", project.ID, ErrAlreadyRunning)
	}

	cmd, err := buildCommand(project)
	if err != nil {
		return nil, err
	}

	group, err := procgroup.New(
		procgroup.OptionName(fmt.Sprintf("procgroup-%s-%s", project.ID, uuid.NewString()[:8])),
		procgroup.OptionMode(m.conf.mode),
	)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", project.ID, err)
	}

	rt := &runtimeState{
		project: project,
		group:   group,
		cmd:     cmd,
		exited:  make(chan struct{}),
	}
	rt.watcher.Store(DetectWatcher(resolveScript(project.Path, project.Script)))

	// The output pipes are created by hand rather than with StdoutPipe so
	// that Wait returns as soon as the shell exits, even when descendants
	// still hold the write ends.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		group.Close()
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		group.Close()
		closeAll(stdoutR, stdoutW)
		return nil, err
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if rt.stdin, err = cmd.StdinPipe(); err != nil {
		group.Close()
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, err
	}

	if err := procgroup.Start(group, cmd); err != nil {
		group.Close()
		closeAll(stdoutR, stdoutW, stderrR, stderrW, rt.stdin)
		return nil, fmt.Errorf("project %q: %w", project.ID, err)
	}
	closeAll(stdoutW, stderrW)

	rt.started = time.Now()
	m.runtimes[project.ID] = rt
	if _, ok := m.logs[project.ID]; !ok {
		m.logs[project.ID] = newLogHistory(m.conf.LogHistory)
	}

	pid := cmd.Process.Pid
	if err := m.store.Set(project.ID, pid); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "could not record project pid",
			"project": project.ID,
			"pid":     pid,
		}))
	}

	go m.pump(rt, stdoutR, LogStdout)
	go m.pump(rt, stderrR, LogStderr)

	grip.Info(message.Fields{
		"message": "started project",
		"project": project.ID,
		"group":   group.ID(),
		"pid":     pid,
		"watcher": rt.watcher.Load(),
	})

	return rt, nil
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

func (m *Manager) pump(rt *runtimeState, r io.ReadCloser, kind LogType) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if !rt.watcher.Load() && DetectWatcherFromOutput(line) {
			rt.watcher.Store(true)
		}
		m.log(rt.project.ID, kind, line)
	}

	if err := scanner.Err(); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "stopped recording project output",
			"project": rt.project.ID,
			"stream":  kind,
		}))
		m.log(rt.project.ID, LogError, fmt.Sprintf("%s output no longer recorded: %v", kind, err))

		// keep the pipe empty so the project never blocks on a write
		_, _ = io.Copy(io.Discard, r)
	}
}

// wait observes the exit of the project's shell. A project whose shell
// launched a watcher stays running until the last member of its group
// exits.
func (m *Manager) wait(rt *runtimeState) {
	defer close(rt.exited)
	err := rt.cmd.Wait()

	if m.keepWatching(rt) {
		m.log(rt.project.ID, LogSystem, "shell exited; watcher still running")
		ticker := time.NewTicker(watcherPollInterval)
		defer ticker.Stop()
		for range ticker.C {
			if !m.keepWatching(rt) {
				break
			}
		}
	}

	m.mu.Lock()
	if rt.stopping {
		m.mu.Unlock()
		return
	}
	rt.group.Close()
	delete(m.runtimes, rt.project.ID)
	m.clearPID(rt.project.ID)
	m.mu.Unlock()

	event := StatusEvent{ProjectID: rt.project.ID, Status: StatusStopped}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		event.Message = "exited with code 0"
	case errors.As(err, &exitErr):
		event.Message = fmt.Sprintf("exited with code %d", exitErr.ExitCode())
	default:
		event.Status = StatusError
		event.Message = err.Error()
	}

	m.log(rt.project.ID, LogSystem, event.Message)
	grip.Info(message.Fields{
		"message": "project exited",
		"project": rt.project.ID,
		"status":  event.Status,
		"detail":  event.Message,
	})
	m.status.Publish(m.ctx, event)
}

func (m *Manager) keepWatching(rt *runtimeState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !rt.stopping && rt.watcher.Load() && rt.group.Running()
}

// Stop tears down the project's process group and waits, up to the
// project's stop timeout, for its shell to be reaped.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	if !ok {
		m.mu.Unlock()
		if _, err := m.conf.Project(id); err != nil {
			return err
		}
		return fmt.Errorf("project %q: %w", id, ErrNotRunning)
	}
	rt.stopping = true
	rt.group.Close()
	delete(m.runtimes, id)
	m.clearPID(id)
	m.mu.Unlock()

	timer := time.NewTimer(rt.project.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-rt.exited:
	case <-timer.C:
		grip.Warning(message.Fields{
			"message": "project did not exit before the stop timeout",
			"project": id,
			"timeout": rt.project.StopTimeout,
		})
	case <-ctx.Done():
		// the group is already closed, so the project counts as stopped
		// even though its shell has not been reaped yet
		err = ctx.Err()
	}

	m.log(id, LogSystem, "terminated")
	m.status.Publish(m.ctx, StatusEvent{ProjectID: id, Status: StatusStopped, Message: "terminated"})
	return err
}

// Restart stops the project if it is running and starts it again after
// the configured restart delay.
func (m *Manager) Restart(ctx context.Context, id string) error {
	if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}

	timer := time.NewTimer(m.conf.RestartDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	return m.Start(ctx, id)
}

// StartAll starts every project that is not already running.
func (m *Manager) StartAll(ctx context.Context) error {
	return m.startMatching(ctx, func(*Project) bool { return true })
}

// StartAutoStart starts the projects configured with auto_start.
func (m *Manager) StartAutoStart(ctx context.Context) error {
	return m.startMatching(ctx, func(p *Project) bool { return p.AutoStart })
}

func (m *Manager) startMatching(ctx context.Context, match func(*Project) bool) error {
	catcher := &erc.Collector{}
	for idx := range m.conf.Projects {
		p := &m.conf.Projects[idx]
		if !match(p) {
			continue
		}
		if err := m.Start(ctx, p.ID); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			catcher.Push(err)
		}
	}
	return catcher.Resolve()
}

// StopAll stops every running project.
func (m *Manager) StopAll(ctx context.Context) error {
	catcher := &erc.Collector{}
	for _, id := range m.Running() {
		if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
			catcher.Push(err)
		}
	}
	return catcher.Resolve()
}

// Write sends data, terminated by a newline, to the project's stdin.
func (m *Manager) Write(id string, data string) error {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("project %q: %w", id, ErrNotRunning)
	}

	if !strings.HasSuffix(data, "\n") {
		data += "\n"
	}
	if _, err := io.WriteString(rt.stdin, data); err != nil {
		return fmt.Errorf("writing to project %q: %w", id, err)
	}

	m.log(id, LogStdin, strings.TrimSuffix(data, "\n"))
	return nil
}

// Logs returns the retained log history of the project, oldest first.
func (m *Manager) Logs(id string) []LogEntry {
	m.mu.Lock()
	h, ok := m.logs[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return h.snapshot()
}

func (m *Manager) ClearLogs(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, id)
}

// Running returns the sorted ids of running projects.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) StartTime(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[id]
	if !ok {
		return time.Time{}, false
	}
	return rt.started, true
}

// CheckStale inspects the pids recorded by earlier managers. Live
// processes are reported as zombies; dead ones are forgotten. The
// returned events are also published to status subscribers.
func (m *Manager) CheckStale(ctx context.Context) ([]StatusEvent, error) {
	var events []StatusEvent
	for id, pid := range m.store.All() {
		if err := ctx.Err(); err != nil {
			return events, err
		}

		m.mu.Lock()
		_, running := m.runtimes[id]
		m.mu.Unlock()
		if running {
			continue
		}

		event := StatusEvent{ProjectID: id, PID: pid}
		if procgroup.Alive(pid) {
			event.Status = StatusZombie
			event.Message = fmt.Sprintf("process %d from a previous session is still running", pid)
		} else {
			event.Status = StatusStopped
			m.clearPID(id)
		}

		events = append(events, event)
		m.status.Publish(m.ctx, event)
	}

	slices.SortFunc(events, func(a, b StatusEvent) int { return strings.Compare(a.ProjectID, b.ProjectID) })
	return events, nil
}

// KillStale terminates a process recorded by an earlier manager, along
// with the descendants that share its process group.
func (m *Manager) KillStale(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	_, running := m.runtimes[id]
	m.mu.Unlock()
	if running {
		return fmt.Errorf("project %q is managed by this session: %w", id, ErrAlreadyRunning)
	}

	pid, ok := m.store.Get(id)
	if !ok {
		return fmt.Errorf("project %q: %w", id, ErrNotRunning)
	}

	group, err := procgroup.New(procgroup.OptionMode(staleGroupMode))
	if err != nil {
		return err
	}
	if err := group.Add(pid); err != nil && !errors.Is(err, procgroup.ErrProcessLookup) {
		group.Close()
		return err
	}
	group.Close()

	m.clearPID(id)
	m.log(id, LogSystem, fmt.Sprintf("killed stale process %d", pid))
	m.status.Publish(m.ctx, StatusEvent{ProjectID: id, Status: StatusStopped, PID: pid, Message: "killed stale process"})
	return nil
}

func (m *Manager) clearPID(id string) {
	if err := m.store.Clear(id); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "could not clear project pid",
			"project": id,
		}))
	}
}

func (m *Manager) log(id string, kind LogType, data string) {
	entry := LogEntry{ProjectID: id, Data: data, Type: kind, Timestamp: time.Now()}

	m.mu.Lock()
	h, ok := m.logs[id]
	if !ok {
		h = newLogHistory(m.conf.LogHistory)
		m.logs[id] = h
	}
	m.mu.Unlock()

	h.push(entry)
	m.output.Publish(m.ctx, entry)
}
