package testutil

import "time"

const (
	// TestTimeout bounds a single test case that starts processes.
	TestTimeout = 30 * time.Second

	// ExitTimeout bounds how long a test waits for a killed process to
	// disappear.
	ExitTimeout = 10 * time.Second
)
