// Package logging holds the process-wide structured logger. Every package
// logs through L(); the CLI reconfigures it once the environment and the
// config file have been read.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Environment variables read by InitFromEnv.
const (
	EnvLevel = "PERCEPTLOG_LOG_LEVEL"
	EnvJSON  = "PERCEPTLOG_LOG_JSON"
)

type Options struct {
	Level  string // debug, info, warn or error; anything else is info
	JSON   bool
	Output io.Writer // nil means stderr
}

var current atomic.Pointer[slog.Logger]

func init() { current.Store(build(Options{})) }

func build(opts Options) *slog.Logger {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

// Configure replaces the logger returned by L. Loggers derived earlier with
// With keep their old handler.
func Configure(opts Options) { current.Store(build(opts)) }

func L() *slog.Logger { return current.Load() }

// ParseLevel maps a level name to a slog level. "trace" is accepted as
// debug and "warning" as warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// InitFromEnv configures the logger from EnvLevel and EnvJSON. An
// unparsable EnvJSON value means text output.
func InitFromEnv() {
	asJSON, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvJSON)))
	Configure(Options{Level: os.Getenv(EnvLevel), JSON: asJSON})
}
