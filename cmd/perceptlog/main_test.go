package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perceptlog/internal/ocsf"
)

const sshdScript = "../../examples/scripts/sshd_auth.star"

const (
	aliceLine = "Accepted password for alice from 10.0.0.1 port 22 ssh2"
	bobLine   = "Failed password for bob from 10.0.0.2 port 22 ssh2"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return p
}

func TestTransformCommand(t *testing.T) {
	in := writeFile(t, t.TempDir(), "auth.log", aliceLine, bobLine)
	out := t.TempDir()

	_, stderr, err := execute(t, "transform", "-s", sshdScript, "-i", in, "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stderr, "1 files processed, 0 failed; 2 records written")

	b, err := os.ReadFile(filepath.Join(out, "auth.ndjson"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(b), "\n"))
}

func TestTransformCommand_ErrorPolicy(t *testing.T) {
	in := writeFile(t, t.TempDir(), "mixed.log", aliceLine, "kernel: noise", bobLine)

	_, stderr, err := execute(t, "transform", "-s", sshdScript, "-i", in, "-o", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, stderr, "FAIL")

	out := t.TempDir()
	_, _, err = execute(t, "transform", "-s", sshdScript, "-i", in, "-o", out, "--skip-errors", "-f", "json")
	require.NoError(t, err)
	var evs []ocsf.Event
	b, err := os.ReadFile(filepath.Join(out, "mixed.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &evs))
	assert.Len(t, evs, 2)
}

func TestTransformCommand_RequiresInput(t *testing.T) {
	_, _, err := execute(t, "transform", "-s", sshdScript)
	assert.ErrorContains(t, err, "input is required")

	_, _, err = execute(t, "transform", "-s", sshdScript, "-i", "x.log", "-f", "xml")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	_, stderr, err := execute(t, "validate", "-s", sshdScript)
	require.NoError(t, err)
	assert.Contains(t, stderr, ": ok")

	broken := writeFile(t, t.TempDir(), "broken.star", "def transform(event):", "    return (")
	_, _, err = execute(t, "validate", "-s", broken)
	assert.Error(t, err)

	sample := writeFile(t, t.TempDir(), "sample.log", aliceLine, "", bobLine)
	stdout, stderr, err := execute(t, "validate", "-s", sshdScript, "-i", sample, "-f", "json", "--print")
	require.NoError(t, err)
	assert.Contains(t, stderr, "2 of 2 sample lines transformed")
	var evs []ocsf.Event
	require.NoError(t, json.Unmarshal([]byte(stdout), &evs))
	assert.Len(t, evs, 2)

	bad := writeFile(t, t.TempDir(), "bad.log", aliceLine, "kernel: noise")
	_, _, err = execute(t, "validate", "-s", sshdScript, "-i", bad)
	assert.ErrorContains(t, err, "1 sample lines failed")
	_, _, err = execute(t, "validate", "-s", sshdScript, "-i", bad, "--skip-errors")
	assert.NoError(t, err)
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	vec := writeFile(t, dir, "vector.toml",
		`[sources.auth]`,
		`type = "file"`,
		`include = ["/var/log/secure/*.log"]`,
		`[transforms.ocsf_transform]`,
		`type = "remap"`,
		`file = "/etc/vector/ocsf.star"`,
		`[sinks.ocsf_output]`,
		`type = "file"`,
		`path = "/srv/ocsf/events.log"`,
	)

	stdout, _, err := execute(t, "convert", vec)
	require.NoError(t, err)
	assert.Contains(t, stdout, "script: /etc/vector/ocsf.star")

	target := filepath.Join(dir, "conf", "perceptlog.toml")
	_, _, err = execute(t, "convert", vec, "-o", target)
	require.NoError(t, err)
	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(b), "/srv/ocsf")

	_, _, err = execute(t, "convert")
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "auth.log", aliceLine)
	script, err := filepath.Abs(sshdScript)
	require.NoError(t, err)
	conf := writeFile(t, dir, "perceptlog.yaml",
		`schema_version: v1`,
		`script: `+script,
		`input: auth.log`,
		`output: out`,
		`format: yaml`,
	)

	_, stderr, err := execute(t, "run", conf)
	require.NoError(t, err)
	assert.Contains(t, stderr, "1 records written")
	assert.FileExists(t, filepath.Join(dir, "out", "auth.yaml"))
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	env := writeFile(t, dir, "test.env", "PERCEPTLOG_FORMAT=yaml")
	t.Cleanup(func() { _ = os.Unsetenv("PERCEPTLOG_FORMAT") })

	in := writeFile(t, dir, "auth.log", aliceLine)
	out := filepath.Join(dir, "out")
	_, _, err := execute(t, "--env-file", env, "transform", "-s", sshdScript, "-i", in, "-o", out)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "auth.yaml"))
}

func TestConsumeCommand_RequiresBrokersAndTopics(t *testing.T) {
	_, _, err := execute(t, "consume", "-s", sshdScript, "--group", "auth")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.kafka needs brokers and topics")
}

func TestRunCommand_KafkaSourceIsValidated(t *testing.T) {
	dir := t.TempDir()
	conf := writeFile(t, dir, "perceptlog.yaml",
		`schema_version: v1`,
		`script: script.star`,
		`source:`,
		`  kind: kafka`,
		`  kafka:`,
		`    brokers: [k1:9092]`,
		`watch:`,
		`  enabled: true`,
	)

	_, _, err := execute(t, "run", conf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.kafka needs brokers and topics")
	assert.Contains(t, err.Error(), "watch cannot be combined with the kafka source")
}
