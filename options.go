package procgroup

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tychoish/fun/erc"
	"github.com/tychoish/fun/opt"
)

// Mode selects the kernel facility a group is built on.
type Mode int

const (
	// ModeAuto uses the strongest facility the platform offers and, on
	// Linux, falls back to process groups when cgroups are unavailable.
	ModeAuto Mode = iota
	// ModeKernel requires the kernel grouping object (a job object on
	// Windows, a cgroup on Linux) and fails construction otherwise.
	ModeKernel
	// ModeProcessGroup uses unix process groups. It is not available on
	// Windows.
	ModeProcessGroup
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeKernel:
		return "kernel"
	case ModeProcessGroup:
		return "process-group"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts the textual form of a Mode, as produced by String.
func ParseMode(in string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "", "auto":
		return ModeAuto, nil
	case "kernel":
		return ModeKernel, nil
	case "process-group", "pgid":
		return ModeProcessGroup, nil
	default:
		return ModeAuto, fmt.Errorf("unknown group mode %q", in)
	}
}

// Options configure a new Group.
type Options struct {
	// Name identifies the group in logs and, on Linux, names the cgroup.
	// Defaults to a random name.
	Name string
	Mode Mode
}

func (conf *Options) Validate() error {
	if conf.Name == "" {
		conf.Name = "procgroup-" + uuid.New().String()
	}

	catcher := &erc.Collector{}
	catcher.Push(validateName(conf.Name))
	if conf.Mode < ModeAuto || conf.Mode > ModeProcessGroup {
		catcher.Push(fmt.Errorf("invalid group mode %d", int(conf.Mode)))
	}
	return catcher.Resolve()
}

func validateName(name string) error {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("group name %q must not contain path separators", name)
	}
	return nil
}

type OptionProvider = opt.Provider[*Options]

func OptionName(name string) OptionProvider {
	return func(conf *Options) error { conf.Name = name; return nil }
}

func OptionMode(mode Mode) OptionProvider {
	return func(conf *Options) error { conf.Mode = mode; return nil }
}

func OptionSet(opts Options) OptionProvider {
	return func(conf *Options) error { *conf = opts; return nil }
}

func makeOptions(opts ...OptionProvider) (*Options, error) {
	conf := &Options{}
	for _, provider := range opts {
		if provider == nil {
			continue
		}
		if err := provider(conf); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResourceCreation, err)
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceCreation, err)
	}
	return conf, nil
}
