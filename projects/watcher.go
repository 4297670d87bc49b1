package projects

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// watchers are tools that keep running after the shell that launched
// them returns, or that restart their children on file changes.
var watchers = []string{"nodemon", "vite", "pm2", "uvicorn", "gunicorn"}

// DetectWatcher reports whether a command line invokes a file watcher.
func DetectWatcher(command string) bool {
	command = strings.ToLower(command)
	for _, w := range watchers {
		if strings.Contains(command, w) {
			return true
		}
	}
	return false
}

// DetectWatcherFromOutput recognizes the banners watchers print at
// startup.
func DetectWatcherFromOutput(line string) bool {
	return strings.Contains(line, "[nodemon]") || strings.Contains(line, "VITE v")
}

// resolveScript expands "npm run <name>" and "npm start" to the command
// recorded in the project's package.json, so that watchers hidden behind
// npm scripts are detected. It returns the script unchanged otherwise.
func resolveScript(dir, script string) string {
	var name string
	switch fields := strings.Fields(script); {
	case len(fields) == 2 && fields[0] == "npm" && fields[1] == "start":
		name = "start"
	case len(fields) == 3 && fields[0] == "npm" && fields[1] == "run":
		name = fields[2]
	default:
		return script
	}

	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil || !gjson.ValidBytes(data) {
		return script
	}

	resolved := script
	gjson.GetBytes(data, "scripts").ForEach(func(key, value gjson.Result) bool {
		if key.String() == name {
			resolved = value.String()
			return false
		}
		return true
	})
	return resolved
}
