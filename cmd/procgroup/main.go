package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tychoish/grip"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	grip.Error(newApp().Run(ctx, os.Args))
}
