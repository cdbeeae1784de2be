package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"perceptlog/internal/engine"
	"perceptlog/internal/logging"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the script over gRPC (perceptlog.v1.Transformer)",
		Long: `Serves Transform and Validate over gRPC plus the standard health service.
SIGHUP re-reads the script; a script that fails to compile leaves the old
program running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := engine.Bootstrap(ctx, cfg)
			if err != nil {
				return err
			}

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-hup:
						if err := e.Reload(); err != nil {
							logging.L().Warn("reload rejected", "err", err)
						}
					case <-ctx.Done():
						return
					}
				}
			}()

			return e.Run(ctx)
		},
	}
	fs := cmd.Flags()
	addScriptFlag(fs)
	fs.String("listen", ":7070", "gRPC listen address")
	return cmd
}
