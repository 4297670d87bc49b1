//go:build !unix && !windows

package procgroup

import "fmt"

func newBackend(*Options) (backend, error) {
	return nil, fmt.Errorf("%w: process groups are not supported on this platform", ErrResourceCreation)
}
