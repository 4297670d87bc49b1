package projects

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/tychoish/fun/assert"
	"github.com/tychoish/fun/assert/check"
	"github.com/tychoish/fun/pubsub"
)

func TestLogHistory(t *testing.T) {
	h := newLogHistory(3)
	check.Equal(t, len(h.snapshot()), 0)

	for i := 0; i < 5; i++ {
		h.push(LogEntry{ProjectID: "web", Data: fmt.Sprint(i), Type: LogStdout})
	}

	entries := h.snapshot()
	assert.Equal(t, len(entries), 3)
	check.Equal(t, entries[0].Data, "2")
	check.Equal(t, entries[2].Data, "4")
}

func TestSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := pubsub.NewBroker[int](ctx, pubsub.BrokerOptions{})

	seen := make(chan int, 8)
	stop := subscribe(ctx, broker, func(v int) { seen <- v })

	broker.Publish(ctx, 1)
	broker.Publish(ctx, 2)
	check.Equal(t, <-seen, 1)
	check.Equal(t, <-seen, 2)

	stop()
	stop()

	other := make(chan int, 8)
	defer subscribe(ctx, broker, func(v int) { other <- v })()
	broker.Publish(ctx, 3)
	check.Equal(t, <-other, 3)
	check.Equal(t, len(seen), 0)

	t.Run("CanceledContext", func(t *testing.T) {
		done, cancel := context.WithCancel(ctx)
		cancel()
		subscribe(done, broker, func(int) { t.Error("delivered to a canceled subscription") })()
		broker.Publish(ctx, 4)
		check.Equal(t, <-other, 4)
	})
}

func TestDetectWatcher(t *testing.T) {
	for _, cmd := range []string{"nodemon server.js", "npx vite", "pm2 start app.js", "uvicorn main:app --reload", "GUNICORN app:app"} {
		check.True(t, DetectWatcher(cmd))
	}
	for _, cmd := range []string{"node server.js", "python -m http.server", ""} {
		check.True(t, !DetectWatcher(cmd))
	}

	check.True(t, DetectWatcherFromOutput("[nodemon] watching path(s): *.*"))
	check.True(t, DetectWatcherFromOutput("  VITE v5.0.0  ready in 300 ms"))
	check.True(t, !DetectWatcherFromOutput("listening on :8080"))
}

func TestResolveScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{
  "name": "web",
  "scripts": {"start": "node server.js", "dev": "nodemon server.js"}
}`)

	check.Equal(t, resolveScript(dir, "npm start"), "node server.js")
	check.Equal(t, resolveScript(dir, "npm run dev"), "nodemon server.js")
	check.Equal(t, resolveScript(dir, "npm run missing"), "npm run missing")
	check.Equal(t, resolveScript(dir, "make serve"), "make serve")
	check.Equal(t, resolveScript(t.TempDir(), "npm start"), "npm start")

	check.True(t, DetectWatcher(resolveScript(dir, "npm run dev")))
}
