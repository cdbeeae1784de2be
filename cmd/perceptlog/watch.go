package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"perceptlog/internal/config"
	"perceptlog/internal/logging"
	"perceptlog/internal/pipeline"
	"perceptlog/internal/watch"
	"perceptlog/source/logfile"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Transform log files whenever they change",
		Long: `Watches a file or directory and transforms each changed log file. Files
are handled one at a time in the order changes arrive. With --append, only
lines added since the last pass are transformed and appended to the output.
With --hot-reload, edits to the script (or SIGHUP) install the new program
without a restart; a script that fails to compile leaves the old one running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), cfg)
		},
	}
	fs := cmd.Flags()
	addScriptFlag(fs)
	addIOFlags(fs)
	addOutputFlags(fs)
	addPolicyFlags(fs)
	fs.DurationP("interval", "n", watch.DefaultPollInterval, "poll interval")
	fs.String("mode", watch.ModeNotify, "change detection: notify or poll")
	fs.Bool("append", false, "append new lines to existing outputs (ndjson and yaml only)")
	fs.Bool("hot-reload", false, "reload the script when it changes or on SIGHUP")
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config) error {
	if cfg.Input == "" {
		return errors.New("input is required")
	}
	defer startMetrics(cfg)()

	proc, err := pipeline.Build(cfg, cfg.Watch.Append)
	if err != nil {
		return err
	}
	defer proc.Close()

	include := cfg.Include
	if len(include) == 0 {
		include = logfile.DefaultWatchPatterns
	}
	filter, err := logfile.NewFilter(include, cfg.Exclude)
	if err != nil {
		return err
	}

	n, err := watch.NewNotifier(cfg.Watch.Mode, cfg.Watch.Interval, cfg.Recursive)
	if err != nil {
		return err
	}
	opts := watch.Options{
		Input:     cfg.Input,
		Script:    cfg.Script,
		HotReload: cfg.Watch.HotReload,
		Append:    cfg.Watch.Append,
		Filter:    filter,
	}
	if cfg.Sink.Kind == "file" {
		opts.Output = cfg.Output
	}
	loop, err := watch.NewLoop(proc, n, opts)
	if err != nil {
		_ = n.Close()
		return err
	}

	if cfg.Watch.HotReload {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-hup:
					logging.L().Info("SIGHUP received; reloading script")
					loop.TriggerReload()
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return loop.Run(ctx)
}
