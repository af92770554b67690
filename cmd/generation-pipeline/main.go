package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/zlog"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		zlog.Logger.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
