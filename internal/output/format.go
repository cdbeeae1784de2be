// Package output renders OCSF events as JSON arrays, NDJSON, or YAML
// document streams. The streaming Serializer and the whole-collection
// FormatAll share one framing implementation and produce identical bytes.
package output

import (
	"fmt"
	"strings"
	"time"
)

type Format string

const (
	JSON       Format = "json"
	JSONPretty Format = "json-pretty"
	NDJSON     Format = "ndjson"
	YAML       Format = "yaml"
)

// Formats lists the accepted format names in their canonical spelling.
var Formats = []Format{JSON, JSONPretty, NDJSON, YAML}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "json-array":
		return JSON, nil
	case "json-pretty", "pretty":
		return JSONPretty, nil
	case "ndjson", "jsonl", "json-lines":
		return NDJSON, nil
	case "yaml", "yml", "yaml-stream":
		return YAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (want json, json-pretty, ndjson or yaml)", s)
}

func (f Format) String() string { return string(f) }

// Extension is the file extension for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case JSON, JSONPretty:
		return "json"
	case YAML:
		return "yaml"
	default:
		return "ndjson"
	}
}

// IsArray reports whether f frames records inside one JSON array, which
// cannot be extended in place once closed.
func (f Format) IsArray() bool { return f == JSON || f == JSONPretty }

// TimestampLayout is the UTC stamp inserted by OutputFilename.
const TimestampLayout = "20060102_150405"

// OutputFilename returns base.<ext>, or base_<UTC timestamp>.<ext>.
func OutputFilename(base string, f Format, timestamp bool) string {
	if timestamp {
		return fmt.Sprintf("%s_%s.%s", base, time.Now().UTC().Format(TimestampLayout), f.Extension())
	}
	return base + "." + f.Extension()
}
