// Package config loads perceptlog settings from defaults, an optional
// config file (YAML, TOML or JSON), PERCEPTLOG_* environment variables and
// command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	tomlparser "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"perceptlog/source/logfile"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "PERCEPTLOG_"
)

type Config struct {
	SchemaVersion string `koanf:"schema_version"`

	Script string `koanf:"script"`
	Input  string `koanf:"input"`
	Output string `koanf:"output"`

	Format      string            `koanf:"format" validate:"oneof=json ndjson yaml json-pretty"`
	Pretty      bool              `koanf:"pretty"`
	Timestamp   bool              `koanf:"timestamp"`
	BatchSize   int               `koanf:"batch_size" validate:"min=1,max=10000"`
	Workers     int               `koanf:"workers" validate:"min=1"`
	SkipErrors  bool              `koanf:"skip_errors"`
	Recursive   bool              `koanf:"recursive"`
	Include     []string          `koanf:"include"`
	Exclude     []string          `koanf:"exclude"`
	MaxLineSize datasize.ByteSize `koanf:"max_line_size"`
	MaxSteps    uint64            `koanf:"max_steps"`
	Compression string            `koanf:"compression" validate:"oneof=none gzip zstd"`

	Source  SourceConfig  `koanf:"source"`
	Sink    SinkConfig    `koanf:"sink"`
	Watch   WatchConfig   `koanf:"watch"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Serve   ServeConfig   `koanf:"serve"`
}

// SourceConfig selects where lines come from. The file source reads Input;
// the kafka source consumes topics until stopped.
type SourceConfig struct {
	Kind  string            `koanf:"kind" validate:"oneof=file kafka"`
	Kafka KafkaSourceConfig `koanf:"kafka"`
}

type KafkaSourceConfig struct {
	Brokers        []string      `koanf:"brokers"`
	Topics         []string      `koanf:"topics"`
	GroupID        string        `koanf:"group_id"`
	StartFrom      string        `koanf:"start_from" validate:"oneof=oldest newest"`
	Version        string        `koanf:"version"`
	ClientID       string        `koanf:"client_id"`
	MaxInFlight    int64         `koanf:"max_in_flight" validate:"min=1"`
	CommitInterval time.Duration `koanf:"commit_interval" validate:"min=100ms"`
	FlushRecords   int           `koanf:"flush_records" validate:"min=1"`
	FlushInterval  time.Duration `koanf:"flush_interval" validate:"min=100ms"`
}

type SinkConfig struct {
	Kind  string      `koanf:"kind" validate:"oneof=file stdout kafka"`
	Kafka KafkaConfig `koanf:"kafka"`
}

type KafkaConfig struct {
	Brokers  []string `koanf:"brokers"`
	Topic    string   `koanf:"topic"`
	Acks     int16    `koanf:"required_acks" validate:"oneof=-1 0 1"`
	Version  string   `koanf:"version"`
	ClientID string   `koanf:"client_id"`
}

type WatchConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Interval  time.Duration `koanf:"interval" validate:"min=1s,max=1h"`
	Mode      string        `koanf:"mode" validate:"oneof=notify poll"`
	Append    bool          `koanf:"append"`
	HotReload bool          `koanf:"hot_reload"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=trace debug info warn warning error"`
	JSON  bool   `koanf:"json"`
}

type ServeConfig struct {
	Listen string `koanf:"listen"`
}

// Defaults returns the built-in layer. skip_errors defaults to true for
// config-file runs; Load turns it off when no file is given.
func Defaults() map[string]any {
	return map[string]any{
		"format":         "ndjson",
		"pretty":         false,
		"batch_size":     100,
		"workers":        runtime.GOMAXPROCS(0),
		"skip_errors":    true,
		"output":         "./ocsf_output",
		"max_line_size":  "1MB",
		"compression":    "none",
		"sink.kind":      "file",

		"source.kind":                  "file",
		"source.kafka.group_id":        "perceptlog",
		"source.kafka.start_from":      "newest",
		"source.kafka.max_in_flight":   10000,
		"source.kafka.commit_interval": "5s",
		"source.kafka.flush_records":   1000,
		"source.kafka.flush_interval":  "5s",

		"watch.interval": "5s",
		"watch.mode":     "notify",
		"metrics.addr":   ":9090",
		"log.level":      "info",
		"serve.listen":   ":7070",
	}
}

type LoadOptions struct {
	// Path is the config file; empty means flags and environment only.
	Path string
	// Flags are applied last. Unchanged flags never override earlier layers.
	Flags *pflag.FlagSet
	// Set holds fixed overrides applied after everything else.
	Set map[string]any
}

var flagKeys = map[string]string{
	"skip-errors":   "skip_errors",
	"batch-size":    "batch_size",
	"max-line-size": "max_line_size",
	"max-steps":     "max_steps",
	"sink":          "sink.kind",
	"kafka-brokers": "sink.kafka.brokers",
	"kafka-topic":   "sink.kafka.topic",
	"interval":      "watch.interval",
	"mode":          "watch.mode",
	"append":        "watch.append",
	"hot-reload":    "watch.hot_reload",
	"log-level":     "log.level",
	"log-json":      "log.json",
	"metrics-addr":  "metrics.addr",
	"listen":        "serve.listen",

	"source":          "source.kind",
	"brokers":         "source.kafka.brokers",
	"topics":          "source.kafka.topics",
	"group":           "source.kafka.group_id",
	"from":            "source.kafka.start_from",
	"max-in-flight":   "source.kafka.max_in_flight",
	"commit-interval": "source.kafka.commit_interval",
	"flush-records":   "source.kafka.flush_records",
	"flush-interval":  "source.kafka.flush_interval",
}

// flags that select files or environment rather than settings
var skipFlags = map[string]bool{"config": true, "env-file": true, "help": true}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return tomlparser.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case "":
		return nil, fmt.Errorf("config file %s has no extension (want .yaml, .toml or .json)", path)
	}
	return nil, fmt.Errorf("config file %s: unsupported extension %q", path, filepath.Ext(path))
}

// Load merges every layer, decodes the result and validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")
	defaults := Defaults()
	if opts.Path == "" {
		defaults["skip_errors"] = false
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	if opts.Path != "" {
		fk, err := loadFile(opts.Path)
		if err != nil {
			return nil, err
		}
		if err := k.Merge(fk); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, flagKey(opts.Flags)), nil); err != nil {
			return nil, err
		}
		if f := opts.Flags.Lookup("metrics-addr"); f != nil && f.Changed {
			_ = k.Set("metrics.enabled", true)
		}
	}

	for key, v := range opts.Set {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	cfg, err := decode(k)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*koanf.Koanf, error) {
	p, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	fk := koanf.New(".")
	if err := fk.Load(file.Provider(path), p); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	sv := fk.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return nil, fmt.Errorf("config schema_version %q not supported (want %q)", sv, SupportedSchema)
	}
	// Paths in a file are relative to the file, not the working directory.
	base := filepath.Dir(path)
	for _, key := range []string{"script", "input", "output"} {
		if v := fk.String(key); v != "" && !filepath.IsAbs(v) {
			_ = fk.Set(key, filepath.Join(base, v))
		}
	}
	return fk, nil
}

// envKey maps PERCEPTLOG_WATCH__INTERVAL to watch.interval.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "log_level" || key == "log_json" {
		// read by logging.InitFromEnv before any config exists
		return strings.Replace(key, "_", ".", 1)
	}
	return strings.ReplaceAll(key, "__", ".")
}

func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		if skipFlags[f.Name] {
			return "", nil
		}
		key, ok := flagKeys[f.Name]
		if !ok {
			key = strings.ReplaceAll(f.Name, "-", "_")
		}
		return key, posflag.FlagVal(fs, f)
	}
}

func decode(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field ranges and the cross-field rules the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error
	if _, err := logfile.NewFilter(c.Include, c.Exclude); err != nil {
		errs = append(errs, err)
	}
	if c.Watch.Append && (c.Format == "json" || c.Format == "json-pretty") {
		errs = append(errs, fmt.Errorf("watch.append requires ndjson or yaml output, not %s", c.Format))
	}
	if c.Metrics.Enabled {
		if err := checkPort(c.Metrics.Addr); err != nil {
			errs = append(errs, fmt.Errorf("metrics.addr: %w", err))
		}
	}
	if c.Sink.Kind == "kafka" && (len(c.Sink.Kafka.Brokers) == 0 || c.Sink.Kafka.Topic == "") {
		errs = append(errs, errors.New("sink.kafka needs brokers and topic"))
	}
	if c.Source.Kind == "kafka" {
		if len(c.Source.Kafka.Brokers) == 0 || len(c.Source.Kafka.Topics) == 0 {
			errs = append(errs, errors.New("source.kafka needs brokers and topics"))
		}
		if c.Source.Kafka.GroupID == "" {
			errs = append(errs, errors.New("source.kafka.group_id is required"))
		}
		if c.Watch.Enabled {
			errs = append(errs, errors.New("watch cannot be combined with the kafka source"))
		}
	}
	return errors.Join(errs...)
}

func checkPort(addr string) error {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return fmt.Errorf("port %q: %w", p, err)
	}
	if port < 1024 || port > 65535 {
		return fmt.Errorf("port %d outside 1024-65535", port)
	}
	return nil
}
