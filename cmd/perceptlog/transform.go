package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"perceptlog/internal/config"
	"perceptlog/internal/pipeline"
)

func newTransformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform a log file or directory once",
		Example: `  perceptlog transform -s sshd_auth.star -i /var/log/auth.log -o out
  perceptlog transform -s sshd_auth.star -i logs/ -r --include '*.log' -f yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			return runTransform(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}
	fs := cmd.Flags()
	addScriptFlag(fs)
	addIOFlags(fs)
	addOutputFlags(fs)
	addPolicyFlags(fs)
	return cmd
}

func runTransform(ctx context.Context, cfg *config.Config, w io.Writer) error {
	if cfg.Input == "" {
		return errors.New("input is required")
	}
	defer startMetrics(cfg)()

	proc, err := pipeline.Build(cfg, false)
	if err != nil {
		return err
	}
	defer proc.Close()

	sum, err := proc.Run(ctx, cfg.Input)
	if sum != nil {
		report(w, sum)
	}
	return err
}

func report(w io.Writer, s *pipeline.Summary) {
	for _, o := range s.Outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(w, "FAIL  %s: %v\n", o.Path, o.Err)
		case o.Written == 0:
			fmt.Fprintf(w, "EMPTY %s\n", o.Path)
		default:
			fmt.Fprintf(w, "OK    %s -> %s (%d records, %d skipped)\n", o.Path, o.Output, o.Written, len(o.Failures))
		}
	}
	fmt.Fprintf(w, "%d files processed, %d failed; %d records written, %d failed in %s\n",
		s.FilesProcessed, s.FilesFailed, s.RecordsWritten, s.RecordsFailed, s.Elapsed.Round(time.Millisecond))
}
