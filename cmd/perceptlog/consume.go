package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"perceptlog/internal/config"
	"perceptlog/internal/pipeline"
)

func newConsumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Transform log lines consumed from Kafka topics",
		Long: `Joins a Kafka consumer group and transforms every message value as one
log line. Records are written in batches; a message's offset is committed
only after the batch holding its record has been written, so a crash or
an aborted run replays anything not yet committed. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfigWith(cmd, "", map[string]any{"source.kind": "kafka"})
			if err != nil {
				return err
			}
			return runConsume(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}
	fs := cmd.Flags()
	addScriptFlag(fs)
	fs.StringP("output", "o", "./ocsf_output", "output directory")
	addOutputFlags(fs)
	addPolicyFlags(fs)
	fs.StringSlice("brokers", nil, "Kafka bootstrap brokers to consume from")
	fs.StringSlice("topics", nil, "topics to consume")
	fs.String("group", "perceptlog", "consumer group id")
	fs.String("from", "newest", "where a new group starts: oldest or newest")
	fs.Int64("max-in-flight", 10_000, "unacknowledged messages before consumption pauses")
	fs.Duration("commit-interval", 5*time.Second, "how often acknowledged offsets are committed")
	fs.Int("flush-records", 1000, "records per output batch")
	fs.Duration("flush-interval", 5*time.Second, "commit open batches at least this often")
	return cmd
}

func runConsume(ctx context.Context, cfg *config.Config, w io.Writer) error {
	defer startMetrics(cfg)()

	proc, err := pipeline.Build(cfg, false)
	if err != nil {
		return err
	}
	defer proc.Close()

	src, err := pipeline.NewSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	sum, err := proc.Consume(ctx, src, pipeline.ConsumeOptions{
		Name:          cfg.Source.Kafka.GroupID,
		FlushRecords:  cfg.Source.Kafka.FlushRecords,
		FlushInterval: cfg.Source.Kafka.FlushInterval,
	})
	if sum != nil {
		fmt.Fprintf(w, "%d messages consumed; %d records written in %d batches, %d failed\n",
			sum.Messages, sum.RecordsWritten, sum.Batches, sum.RecordsFailed)
	}
	return err
}
