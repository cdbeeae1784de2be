package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"perceptlog/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logging.L().Error("perceptlog failed", "err", err)
		stop()
		os.Exit(1)
	}
}
