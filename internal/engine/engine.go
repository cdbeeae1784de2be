package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"perceptlog/internal/logging"
	"perceptlog/internal/transform"
	"perceptlog/internal/transport"
)

type Engine struct {
	transform *transform.Engine
	transport *transport.Server
	metrics   *http.Server
	script    string
}

func (e *Engine) Addr() net.Addr { return e.transport.Addr() }

func (e *Engine) Transform() *transform.Engine { return e.transform }

// Reload re-reads the script file; the running program stays on failure.
func (e *Engine) Reload() error { return e.transform.ReloadFile(e.script) }

// Run serves until ctx ends, then drains in-flight calls.
func (e *Engine) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.transport.Stop()
		if e.metrics != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.metrics.Shutdown(sctx); err != nil {
				logging.L().Warn("metrics shutdown", "err", err)
			}
		}
	}()

	if err := e.transport.Serve(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
