// Package engine assembles the long-running transform service: the compiled
// script, the gRPC transport and the metrics listener.
package engine

import (
	"context"
	"fmt"

	"perceptlog/internal/config"
	"perceptlog/internal/script"
	"perceptlog/internal/telemetry"
	"perceptlog/internal/transform"
	"perceptlog/internal/transport"
)

func Bootstrap(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. script
	tr, err := transform.LoadEngine(cfg.Script,
		script.Options{MaxSteps: cfg.MaxSteps},
		transform.Options{Workers: cfg.Workers})
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}

	// 2. transport server
	srv, err := transport.StartServer(cfg.Serve.Listen, tr)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	e := &Engine{transform: tr, transport: srv, script: cfg.Script}

	// 3. metrics
	if cfg.Metrics.Enabled {
		e.metrics = telemetry.Expose(cfg.Metrics.Addr)
	}
	return e, nil
}
