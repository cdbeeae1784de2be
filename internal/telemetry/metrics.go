package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perceptlog/internal/logging"
)

const namespace = "perceptlog"

var (
	Records = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Transformed input lines by result (ok, error).",
	}, []string{"result"})

	Files = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_total",
		Help:      "Processed input files by result (ok, error).",
	}, []string{"result"})

	Reloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "script_reloads_total",
		Help:      "Script reload attempts by result (ok, error).",
	}, []string{"result"})

	Batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_batches_total",
		Help:      "Output batches from consumed messages by result (ok, error).",
	}, []string{"result"})

	RPCs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "Remote transform calls by method and status code.",
	}, []string{"method", "code"})

	TransformDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transform_duration_seconds",
		Help:      "Time spent transforming one line, including conversion.",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
	})
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveRecord(start time.Time, err error) {
	TransformDuration.Observe(time.Since(start).Seconds())
	Records.WithLabelValues(Result(err)).Inc()
}

// Expose serves /metrics on addr in the background. The returned server is
// shut down by the caller.
func Expose(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics listener stopped", "addr", addr, "err", err)
		}
	}()
	logging.L().Info("metrics exposed", "addr", addr, "path", "/metrics")
	return srv
}
