package projects

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tychoish/fun/erc"
	"github.com/tychoish/procgroup"
	"gopkg.in/yaml.v3"
)

const (
	DefaultScript       = "npm start"
	DefaultLogHistory   = 1000
	DefaultStopTimeout  = 5 * time.Second
	DefaultRestartDelay = time.Second
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Config describes the set of projects a Manager supervises.
type Config struct {
	// StateFile records the pids of running projects so that a later
	// process can find projects that outlived an improper shutdown. When
	// empty, state is kept in memory only.
	StateFile    string        `yaml:"state_file"`
	LogHistory   int           `yaml:"log_history"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	GroupMode    string        `yaml:"group_mode"`
	Projects     []Project     `yaml:"projects"`

	mode procgroup.Mode
}

// Project is a command run in its own directory. Each run of a project
// lives in its own process group.
type Project struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Path        string            `yaml:"path"`
	Script      string            `yaml:"script"`
	Shell       *bool             `yaml:"shell"`
	Env         map[string]string `yaml:"env"`
	AutoStart   bool              `yaml:"auto_start"`
	StopTimeout time.Duration     `yaml:"stop_timeout"`
}

// LoadConfig reads and validates a YAML configuration file. Relative
// project paths and the state file are resolved against the directory
// that holds the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	conf := &Config{}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parsing config '%s': %w", path, err)
	}

	base := filepath.Dir(path)
	if conf.StateFile != "" && !filepath.IsAbs(conf.StateFile) {
		conf.StateFile = filepath.Join(base, conf.StateFile)
	}
	for idx := range conf.Projects {
		if p := conf.Projects[idx].Path; p != "" && !filepath.IsAbs(p) {
			conf.Projects[idx].Path = filepath.Join(base, p)
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config '%s': %w", path, err)
	}
	return conf, nil
}

func (conf *Config) Validate() error {
	catcher := &erc.Collector{}

	if conf.LogHistory == 0 {
		conf.LogHistory = DefaultLogHistory
	}
	if conf.LogHistory < 0 {
		catcher.Push(fmt.Errorf("log history %d must not be negative", conf.LogHistory))
	}
	if conf.RestartDelay == 0 {
		conf.RestartDelay = DefaultRestartDelay
	}

	mode, err := procgroup.ParseMode(conf.GroupMode)
	catcher.Push(err)
	conf.mode = mode

	seen := make(map[string]struct{}, len(conf.Projects))
	for idx := range conf.Projects {
		p := &conf.Projects[idx]
		catcher.Push(p.Validate())
		if _, ok := seen[p.ID]; ok {
			catcher.Push(fmt.Errorf("duplicate project id %q", p.ID))
		}
		seen[p.ID] = struct{}{}
	}

	return catcher.Resolve()
}

// Project returns the project with the given id.
func (conf *Config) Project(id string) (*Project, error) {
	for idx := range conf.Projects {
		if conf.Projects[idx].ID == id {
			return &conf.Projects[idx], nil
		}
	}
	return nil, fmt.Errorf("project %q: %w", id, ErrUnknownProject)
}

func (p *Project) Validate() error {
	if !projectIDPattern.MatchString(p.ID) {
		return fmt.Errorf("project id %q must be non-empty and contain only letters, digits, '.', '_' or '-'", p.ID)
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Script == "" {
		p.Script = DefaultScript
	}
	if p.Path == "" {
		p.Path = "."
	}
	if p.Shell == nil {
		useShell := true
		p.Shell = &useShell
	}
	if p.StopTimeout <= 0 {
		p.StopTimeout = DefaultStopTimeout
	}
	return nil
}

// UseShell reports whether the script runs through the platform shell.
func (p *Project) UseShell() bool { return p.Shell == nil || *p.Shell }
