//go:build unix && !linux

package procgroup

import "fmt"

func newBackend(conf *Options) (backend, error) {
	if conf.Mode == ModeKernel {
		return nil, fmt.Errorf("%w: no kernel process grouping facility on this platform", ErrResourceCreation)
	}
	return newProcessGroups(conf.Name), nil
}
