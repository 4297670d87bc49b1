package projects

import (
	"sync"
	"time"

	"github.com/tychoish/fun/dt"
)

type LogType string

const (
	LogStdout LogType = "stdout"
	LogStderr LogType = "stderr"
	LogStdin  LogType = "stdin"
	LogError  LogType = "error"
	LogSystem LogType = "system"
)

// LogEntry is one line of output from, or input to, a project.
type LogEntry struct {
	ProjectID string    `json:"project_id" yaml:"project_id"`
	Data      string    `json:"data" yaml:"data"`
	Type      LogType   `json:"type" yaml:"type"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// logHistory keeps the most recent entries for one project.
type logHistory struct {
	mu      sync.Mutex
	limit   int
	entries dt.List[LogEntry]
}

func newLogHistory(limit int) *logHistory { return &logHistory{limit: limit} }

func (h *logHistory) push(e LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries.PushBack(e)
	for h.entries.Len() > h.limit {
		h.entries.PopFront()
	}
}

func (h *logHistory) snapshot() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]LogEntry, 0, h.entries.Len())
	for e := h.entries.Front(); e.Ok(); e = e.Next() {
		out = append(out, e.Value())
	}
	return out
}
