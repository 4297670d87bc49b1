package procgroup

import "github.com/tychoish/fun/ers"

// Errors returned by groups. Operations wrap these, together with the
// underlying system error where there is one, so callers should compare
// with errors.Is.
const (
	// ErrResourceCreation means the kernel object backing a group could
	// not be created or configured. No group is returned.
	ErrResourceCreation ers.Error = "could not create process group"

	// ErrInvalidArgument means the caller passed a malformed process
	// identifier. No kernel call was made.
	ErrInvalidArgument ers.Error = "invalid process id"

	// ErrInvalidState means the group was already closed.
	ErrInvalidState ers.Error = "handle is closed"

	// ErrProcessLookup means the process does not exist, has exited, or
	// cannot be opened. This is frequently transient.
	ErrProcessLookup ers.Error = "could not open process"

	// ErrAssignment means the kernel refused to place the process in the
	// group. The group remains usable.
	ErrAssignment ers.Error = "could not assign process to group"
)
