package projects

import "github.com/tychoish/fun/ers"

const (
	ErrUnknownProject ers.Error = "unknown project"
	ErrAlreadyRunning ers.Error = "project is already running"
	ErrNotRunning     ers.Error = "project is not running"
)
