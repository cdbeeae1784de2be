package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"perceptlog/internal/config"
	"perceptlog/internal/logging"
	"perceptlog/internal/telemetry"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "perceptlog",
		Short:         "Transform log lines into OCSF records with Starlark scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if path, _ := cmd.Flags().GetString("env-file"); path != "" {
				if err := godotenv.Load(path); err != nil {
					return fmt.Errorf("env file: %w", err)
				}
			}
			logging.InitFromEnv()
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (.yaml, .toml or .json)")
	pf.String("env-file", "", "load environment variables from this .env file first")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.Bool("log-json", false, "write logs as JSON")
	pf.String("metrics-addr", ":9090", "serve Prometheus metrics on this address")

	root.AddCommand(
		newTransformCmd(),
		newValidateCmd(),
		newConvertCmd(),
		newRunCmd(),
		newWatchCmd(),
		newConsumeCmd(),
		newServeCmd(),
	)
	return root
}

// loadConfig layers defaults, the config file, the environment and the
// command's flags, then applies the log settings. path overrides --config.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	return loadConfigWith(cmd, path, nil)
}

// loadConfigWith is loadConfig with fixed overrides applied last.
func loadConfigWith(cmd *cobra.Command, path string, set map[string]any) (*config.Config, error) {
	if path == "" {
		path, _ = cmd.Flags().GetString("config")
	}
	cfg, err := config.Load(config.LoadOptions{Path: path, Flags: cmd.Flags(), Set: set})
	if err != nil {
		return nil, err
	}
	logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	return cfg, nil
}

// startMetrics exposes /metrics when enabled and returns its shutdown.
func startMetrics(cfg *config.Config) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}
	srv := telemetry.Expose(cfg.Metrics.Addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

/* ───────────────────────────── shared flags ───────────────────────────── */

func addScriptFlag(fs *pflag.FlagSet) {
	fs.StringP("script", "s", "", "transformation script (.star)")
	fs.Uint64("max-steps", 0, "abort a record after this many script steps (0 = unlimited)")
	fs.IntP("workers", "w", 0, "concurrent transforms (default GOMAXPROCS)")
}

func addIOFlags(fs *pflag.FlagSet) {
	fs.StringP("input", "i", "", "input log file or directory")
	fs.StringP("output", "o", "./ocsf_output", "output directory")
	fs.BoolP("recursive", "r", false, "descend into subdirectories")
	fs.StringSlice("include", nil, "only file names matching these globs")
	fs.StringSlice("exclude", nil, "skip file names matching these globs")
	fs.String("max-line-size", "1MB", "longest accepted input line")
}

func addOutputFlags(fs *pflag.FlagSet) {
	fs.StringP("format", "f", "ndjson", "output format: json, json-pretty, ndjson or yaml")
	fs.BoolP("pretty", "p", false, "indent JSON output")
	fs.Bool("timestamp", false, "add _YYYYMMDD_HHMMSS to output file names")
	fs.String("compression", "none", "compress output files: none, gzip or zstd")
	fs.String("sink", "file", "output sink: file, stdout or kafka")
	fs.StringSlice("kafka-brokers", nil, "Kafka bootstrap brokers for the kafka sink")
	fs.String("kafka-topic", "", "Kafka topic for the kafka sink")
}

func addPolicyFlags(fs *pflag.FlagSet) {
	fs.Bool("skip-errors", false, "keep going past failed records and files")
	fs.IntP("batch-size", "b", 100, "lines buffered ahead of the writer")
}
