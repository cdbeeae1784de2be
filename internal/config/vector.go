package config

import (
	"fmt"
	"path/filepath"
	"strings"

	tomlparser "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Names Vector deployments conventionally give the OCSF remap transform and
// its file sink.
const (
	vectorTransform = "ocsf_transform"
	vectorSink      = "ocsf_output"
)

// FromVector derives a Config from a Vector TOML file: the remap transform's
// file becomes the script, the first file source's first include becomes the
// input (a kafka source becomes the kafka source instead), and the file
// sink's directory becomes the output.
func FromVector(path string) (*Config, error) {
	vk := koanf.New(".")
	if err := vk.Load(file.Provider(path), tomlparser.Parser()); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, err
	}

	if s := firstWith(vk, "transforms", vectorTransform, "file"); s != "" {
		_ = k.Set("script", s)
	}
	for _, name := range vk.MapKeys("sources") {
		src := "sources." + name
		if vk.String(src+".type") == "kafka" {
			_ = k.Set("source.kind", "kafka")
			_ = k.Set("source.kafka.brokers", splitList(vk.String(src+".bootstrap_servers")))
			_ = k.Set("source.kafka.topics", vk.Strings(src+".topics"))
			if g := vk.String(src + ".group_id"); g != "" {
				_ = k.Set("source.kafka.group_id", g)
			}
			if vk.String(src+".auto_offset_reset") == "earliest" {
				_ = k.Set("source.kafka.start_from", "oldest")
			}
			break
		}
		inc := vk.Strings(src + ".include")
		if len(inc) == 0 {
			continue
		}
		in := inc[0]
		if strings.ContainsAny(filepath.Base(in), "*?[{") {
			_ = k.Set("include", []string{filepath.Base(in)})
			in = filepath.Dir(in)
		}
		_ = k.Set("input", in)
		break
	}
	if p := firstWith(vk, "sinks", vectorSink, "path"); p != "" {
		_ = k.Set("output", filepath.Dir(p))
		codec := vk.String("sinks." + vectorSink + ".encoding.codec")
		if codec == "json" || codec == "ndjson" {
			_ = k.Set("format", "ndjson")
		}
	}

	cfg, err := decode(k)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// firstWith returns section.preferred.field, or the field of the first
// entry in section that has it.
func firstWith(k *koanf.Koanf, section, preferred, field string) string {
	if v := k.String(section + "." + preferred + "." + field); v != "" {
		return v
	}
	for _, name := range k.MapKeys(section) {
		if v := k.String(section + "." + name + "." + field); v != "" {
			return v
		}
	}
	return ""
}

// Map renders c in the layout Load reads.
func (c *Config) Map() map[string]any {
	return map[string]any{
		"schema_version": SupportedSchema,
		"script":         c.Script,
		"input":          c.Input,
		"output":         c.Output,
		"format":         c.Format,
		"pretty":         c.Pretty,
		"timestamp":      c.Timestamp,
		"batch_size":     c.BatchSize,
		"workers":        c.Workers,
		"skip_errors":    c.SkipErrors,
		"recursive":      c.Recursive,
		"include":        nonNil(c.Include),
		"exclude":        nonNil(c.Exclude),
		"max_line_size":  c.MaxLineSize.String(),
		"max_steps":      c.MaxSteps,
		"compression":    c.Compression,
		"source": map[string]any{
			"kind": c.Source.Kind,
			"kafka": map[string]any{
				"brokers":         nonNil(c.Source.Kafka.Brokers),
				"topics":          nonNil(c.Source.Kafka.Topics),
				"group_id":        c.Source.Kafka.GroupID,
				"start_from":      c.Source.Kafka.StartFrom,
				"version":         c.Source.Kafka.Version,
				"client_id":       c.Source.Kafka.ClientID,
				"max_in_flight":   c.Source.Kafka.MaxInFlight,
				"commit_interval": c.Source.Kafka.CommitInterval.String(),
				"flush_records":   c.Source.Kafka.FlushRecords,
				"flush_interval":  c.Source.Kafka.FlushInterval.String(),
			},
		},
		"sink": map[string]any{
			"kind": c.Sink.Kind,
			"kafka": map[string]any{
				"brokers":       nonNil(c.Sink.Kafka.Brokers),
				"topic":         c.Sink.Kafka.Topic,
				"required_acks": c.Sink.Kafka.Acks,
				"version":       c.Sink.Kafka.Version,
				"client_id":     c.Sink.Kafka.ClientID,
			},
		},
		"watch": map[string]any{
			"enabled":    c.Watch.Enabled,
			"interval":   c.Watch.Interval.String(),
			"mode":       c.Watch.Mode,
			"append":     c.Watch.Append,
			"hot_reload": c.Watch.HotReload,
		},
		"metrics": map[string]any{"enabled": c.Metrics.Enabled, "addr": c.Metrics.Addr},
		"log":     map[string]any{"level": c.Log.Level, "json": c.Log.JSON},
		"serve":   map[string]any{"listen": c.Serve.Listen},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Marshal encodes c for a config file at path, choosing YAML, TOML or JSON
// from the extension.
func Marshal(c *Config, path string) ([]byte, error) {
	p, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(c.Map(), ""), nil); err != nil {
		return nil, err
	}
	return k.Marshal(p)
}
