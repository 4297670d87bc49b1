//go:build windows

package procgroup

import "golang.org/x/sys/windows"

// scopedHandle owns a kernel handle and releases it exactly once.
type scopedHandle struct {
	handle windows.Handle
	closed bool
}

func (h *scopedHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return windows.CloseHandle(h.handle)
}
