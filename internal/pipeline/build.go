package pipeline

import (
	"fmt"
	"os"

	"perceptlog/internal/config"
	"perceptlog/internal/logging"
	"perceptlog/internal/output"
	"perceptlog/internal/script"
	"perceptlog/internal/transform"
	"perceptlog/sink"
	"perceptlog/sink/file"
	"perceptlog/sink/kafka"
	"perceptlog/sink/stdout"
	"perceptlog/source/logfile"
)

// Build compiles the script and wires the configured sink. appendMode opens
// file outputs for extension, as the watcher does.
func Build(cfg *config.Config, appendMode bool) (*Processor, error) {
	if cfg.Script == "" {
		return nil, configErrorf("script", "path is required")
	}
	if _, err := os.Stat(cfg.Script); err != nil {
		return nil, &ConfigError{Field: "script", Err: err}
	}
	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		return nil, &ConfigError{Field: "format", Err: err}
	}
	filter, err := logfile.NewFilter(cfg.Include, cfg.Exclude)
	if err != nil {
		return nil, &ConfigError{Field: "include", Err: err}
	}

	eng, err := transform.LoadEngine(cfg.Script,
		script.Options{MaxSteps: cfg.MaxSteps},
		transform.Options{Workers: cfg.Workers})
	if err != nil {
		return nil, err
	}

	adapter, err := NewSink(cfg, format, appendMode)
	if err != nil {
		return nil, err
	}

	return New(eng, adapter, Options{
		Policy:      Policy{SkipErrors: cfg.SkipErrors},
		BatchSize:   cfg.BatchSize,
		Filter:      filter,
		Recursive:   cfg.Recursive,
		MaxLineSize: cfg.MaxLineSize,
	})
}

// NewSink returns the configured sink adapter with commit logging bound.
func NewSink(cfg *config.Config, format output.Format, appendMode bool) (sink.Adapter, error) {
	a, err := sink.NewAdapter(cfg.Sink.Kind)
	if err != nil {
		return nil, &ConfigError{Field: "sink.kind", Err: err}
	}

	switch cfg.Sink.Kind {
	case "file":
		if cfg.Output == "" {
			return nil, configErrorf("output", "directory is required")
		}
		err = a.Configure(file.Config{
			Dir:         cfg.Output,
			Format:      format,
			Pretty:      cfg.Pretty,
			Timestamp:   cfg.Timestamp && !appendMode,
			Compression: file.Compression(cfg.Compression),
			Append:      appendMode,
		})
	case "stdout":
		err = a.Configure(stdout.Config{Format: format, Pretty: cfg.Pretty})
	case "kafka":
		kc := cfg.Sink.Kafka
		err = a.Configure(kafka.Config{
			Brokers:  kc.Brokers,
			Topic:    kc.Topic,
			Acks:     kc.Acks,
			Version:  kc.Version,
			ClientID: kc.ClientID,
		})
	default:
		err = fmt.Errorf("no config block for sink %q", cfg.Sink.Kind)
	}
	if err != nil {
		return nil, &ConfigError{Field: "sink", Err: err}
	}

	if ackAware, ok := a.(sink.AckAware); ok {
		ackAware.BindAck(func(r sink.Receipt) {
			logging.L().Debug("output committed", "location", r.Location, "records", r.Records)
		})
	}
	return a, nil
}
