package projects

import (
	"context"
	"sync"
	"time"

	"github.com/tychoish/fun/pubsub"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
	// StatusZombie marks a project whose process outlived the manager
	// that started it.
	StatusZombie Status = "zombie"
)

type StatusEvent struct {
	ProjectID string    `json:"project_id" yaml:"project_id"`
	Status    Status    `json:"status" yaml:"status"`
	PID       int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartTime time.Time `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	Message   string    `json:"message,omitempty" yaml:"message,omitempty"`
}

// subscribe delivers the messages of broker to fn, on a goroutine of its
// own, until the returned function is called or ctx ends. The returned
// function blocks until fn has returned for the last time, so it must not
// be called from fn.
func subscribe[T any](ctx context.Context, broker *pubsub.Broker[T], fn func(T)) func() {
	ch := broker.Subscribe(ctx)
	if ch == nil {
		return func() {}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer discard(ctx, broker, ch)
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case msg := <-ch:
				fn(msg)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		<-stopped
	}
}

// discard unsubscribes ch. The broker may already be dispatching a message
// to ch when the unsubscription lands, so ch is drained until the broker
// shuts down.
func discard[T any](ctx context.Context, broker *pubsub.Broker[T], ch chan T) {
	go broker.Unsubscribe(ctx, ch)
	for {
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}
