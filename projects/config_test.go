package projects

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tychoish/fun/assert"
	"github.com/tychoish/fun/assert/check"
	"github.com/tychoish/procgroup"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	assert.NotError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadConfig(t *testing.T) {
	for name, testCase := range map[string]func(t *testing.T, dir string){
		"ResolvesRelativePaths": func(t *testing.T, dir string) {
			path := filepath.Join(dir, "procgroup.yaml")
			writeFile(t, path, `
state_file: state.yaml
projects:
  - id: web
    path: web
    script: npm run dev
  - id: api
    path: /srv/api
`)
			conf, err := LoadConfig(path)
			assert.NotError(t, err)
			check.Equal(t, conf.StateFile, filepath.Join(dir, "state.yaml"))
			check.Equal(t, conf.Projects[0].Path, filepath.Join(dir, "web"))
			check.Equal(t, conf.Projects[1].Path, "/srv/api")
		},
		"FillsDefaults": func(t *testing.T, dir string) {
			path := filepath.Join(dir, "procgroup.yaml")
			writeFile(t, path, "projects:\n  - id: web\n")

			conf, err := LoadConfig(path)
			assert.NotError(t, err)
			check.Equal(t, conf.LogHistory, DefaultLogHistory)
			check.Equal(t, conf.RestartDelay, DefaultRestartDelay)
			check.Equal(t, conf.mode, procgroup.ModeAuto)

			p := conf.Projects[0]
			check.Equal(t, p.Name, "web")
			check.Equal(t, p.Script, DefaultScript)
			check.Equal(t, p.StopTimeout, DefaultStopTimeout)
			check.True(t, p.UseShell())
		},
		"ShellCanBeDisabled": func(t *testing.T, dir string) {
			path := filepath.Join(dir, "procgroup.yaml")
			writeFile(t, path, "projects:\n  - id: web\n    shell: false\n    script: node server.js\n")

			conf, err := LoadConfig(path)
			assert.NotError(t, err)
			check.True(t, !conf.Projects[0].UseShell())
		},
		"MissingFile": func(t *testing.T, dir string) {
			_, err := LoadConfig(filepath.Join(dir, "absent.yaml"))
			check.Error(t, err)
		},
		"MalformedYAML": func(t *testing.T, dir string) {
			path := filepath.Join(dir, "procgroup.yaml")
			writeFile(t, path, "projects: [")
			_, err := LoadConfig(path)
			check.Error(t, err)
		},
		"DuplicateIDs": func(t *testing.T, dir string) {
			path := filepath.Join(dir, "procgroup.yaml")
			writeFile(t, path, "projects:\n  - id: web\n  - id: web\n")
			_, err := LoadConfig(path)
			assert.Error(t, err)
			check.Substring(t, err.Error(), "duplicate")
		},
		"InvalidID": func(t *testing.T, dir string) {
			path := filepath.Join(dir, "procgroup.yaml")
			writeFile(t, path, "projects:\n  - id: 'has space'\n")
			_, err := LoadConfig(path)
			check.Error(t, err)
		},
		"InvalidGroupMode": func(t *testing.T, dir string) {
			path := filepath.Join(dir, "procgroup.yaml")
			writeFile(t, path, "group_mode: sideways\nprojects:\n  - id: web\n")
			_, err := LoadConfig(path)
			check.Error(t, err)
		},
		"NegativeLogHistory": func(t *testing.T, dir string) {
			path := filepath.Join(dir, "procgroup.yaml")
			writeFile(t, path, "log_history: -1\n")
			_, err := LoadConfig(path)
			check.Error(t, err)
		},
	} {
		t.Run(name, func(t *testing.T) {
			testCase(t, t.TempDir())
		})
	}
}

func TestConfigProjectLookup(t *testing.T) {
	conf := &Config{Projects: []Project{{ID: "web"}}}
	assert.NotError(t, conf.Validate())

	p, err := conf.Project("web")
	assert.NotError(t, err)
	check.Equal(t, p.ID, "web")

	_, err = conf.Project("db")
	check.ErrorIs(t, err, ErrUnknownProject)
}
