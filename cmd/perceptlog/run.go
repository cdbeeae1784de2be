package main

import (
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config>",
		Short: "Run everything a config file describes",
		Long: `Transforms the configured input once, keeps watching it when
watch.enabled is set, or consumes Kafka when source.kind is kafka.
Environment variables and global flags still apply on top of the file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args[0])
			if err != nil {
				return err
			}
			if cfg.Source.Kind == "kafka" {
				return runConsume(cmd.Context(), cfg, cmd.ErrOrStderr())
			}
			if cfg.Watch.Enabled {
				return runWatch(cmd.Context(), cfg)
			}
			return runTransform(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}
}
