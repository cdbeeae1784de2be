package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"perceptlog/internal/ocsf"
)

func sampleEvents(n int) []*ocsf.Event {
	out := make([]*ocsf.Event, n)
	for i := range out {
		ev := ocsf.NewBuilder().
			Category(3, "Identity & Access Management").
			Class(3002, "Authentication").
			Time(1700000000000+int64(i)).
			Type(300201, "Authentication: Logon").
			Activity(1, "Logon").
			Status("Success", 1).
			Severity("Informational", 1).
			User(ocsf.User{Name: fmt.Sprintf("user%d", i)}).
			Message("<ok> & done").
			Build()
		out[i] = ev
	}
	return out
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"json": JSON, "JSON-ARRAY": JSON, "json-pretty": JSONPretty,
		"ndjson": NDJSON, "jsonl": NDJSON, "yaml": YAML, "yml": YAML, " yaml-stream ": YAML,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestOutputFilename(t *testing.T) {
	assert.Equal(t, "auth.ndjson", OutputFilename("auth", NDJSON, false))
	assert.Equal(t, "auth.json", OutputFilename("auth", JSONPretty, false))
	assert.Equal(t, "auth.yaml", OutputFilename("auth", YAML, false))

	stamped := OutputFilename("auth", NDJSON, true)
	assert.True(t, strings.HasPrefix(stamped, "auth_"))
	assert.True(t, strings.HasSuffix(stamped, ".ndjson"))
	assert.Len(t, stamped, len("auth_")+len(TimestampLayout)+len(".ndjson"))
}

func TestJSONArray_EmptyIsBrackets(t *testing.T) {
	for _, pretty := range []bool{false, true} {
		s := NewSerializer(JSON, pretty)
		assert.Equal(t, "[]", s.Finalize())
		assert.Equal(t, "", s.Buffer())
	}
	assert.Equal(t, "[]", NewSerializer(JSONPretty, false).Finalize())
}

func TestJSONArray_MatchesEncodingJSON(t *testing.T) {
	for _, n := range []int{0, 1, 2, 7} {
		events := sampleEvents(n)

		compact, err := FormatAll(events, JSON, false)
		require.NoError(t, err)
		want, err := json.Marshal(events)
		require.NoError(t, err)
		assert.Equal(t, string(want), compact, "n=%d compact", n)

		pretty, err := FormatAll(events, JSON, true)
		require.NoError(t, err)
		want, err = json.MarshalIndent(events, "", "  ")
		require.NoError(t, err)
		assert.Equal(t, string(want), pretty, "n=%d pretty", n)
	}
}

func TestJSONArray_ElementsEqualCompactRendering(t *testing.T) {
	events := sampleEvents(5)
	s := NewSerializer(JSON, false)
	for _, ev := range events {
		require.NoError(t, s.Append(ev))
	}

	var parsed []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(s.Finalize()), &parsed))
	require.Len(t, parsed, len(events))
	for i, raw := range parsed {
		one, err := FormatOne(events[i], JSON, false)
		require.NoError(t, err)
		assert.Equal(t, one, string(raw))
	}
}

func TestFinalizeIsPure(t *testing.T) {
	s := NewSerializer(JSON, true)
	require.NoError(t, s.Append(sampleEvents(1)[0]))
	first := s.Finalize()
	assert.Equal(t, first, s.Finalize())
	assert.Equal(t, 1, strings.Count(first, "\n]"))
	assert.True(t, strings.HasPrefix(first, "[\n  {"))

	require.NoError(t, s.Append(sampleEvents(1)[0]))
	var parsed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(s.Finalize()), &parsed))
	assert.Len(t, parsed, 2)
}

func TestNDJSON_OneLinePerRecord(t *testing.T) {
	events := sampleEvents(4)
	out, err := FormatAll(events, NDJSON, true)
	require.NoError(t, err)

	sc := bufio.NewScanner(strings.NewReader(out))
	lines := 0
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines++
	}
	assert.Equal(t, len(events), lines)
	assert.True(t, strings.HasSuffix(out, "\n"))

	s := NewSerializer(NDJSON, false)
	for _, ev := range events {
		require.NoError(t, s.Append(ev))
	}
	assert.Equal(t, out, s.Finalize())
	assert.Equal(t, s.Buffer(), s.Finalize())
}

func TestYAMLStream_DocumentSeparators(t *testing.T) {
	events := sampleEvents(3)
	out, err := FormatAll(events, YAML, false)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "---\n"))
	assert.False(t, strings.HasPrefix(out, "---"))

	dec := yaml.NewDecoder(strings.NewReader(out))
	var docs int
	for {
		var ev ocsf.Event
		if err := dec.Decode(&ev); err != nil {
			break
		}
		assert.Equal(t, fmt.Sprintf("user%d", docs), ev.User.Name)
		docs++
	}
	assert.Equal(t, 3, docs)

	empty, err := FormatAll(nil, YAML, false)
	require.NoError(t, err)
	assert.Equal(t, "", empty)
}

func TestReset(t *testing.T) {
	s := NewSerializer(YAML, false)
	require.NoError(t, s.Append(sampleEvents(1)[0]))
	s.Reset()
	assert.Equal(t, 0, s.Len())
	require.NoError(t, s.Append(sampleEvents(1)[0]))
	assert.False(t, strings.Contains(s.Finalize(), "---"))
}

func TestStreamWriter_MatchesSerializer(t *testing.T) {
	for _, f := range Formats {
		for _, n := range []int{0, 1, 3} {
			events := sampleEvents(n)
			want, err := FormatAll(events, f, false)
			require.NoError(t, err)

			var buf bytes.Buffer
			w := NewStreamWriter(&buf, f, false)
			for _, ev := range events {
				require.NoError(t, w.Append(ev))
			}
			require.NoError(t, w.Close())
			assert.Equal(t, want, buf.String(), "%s n=%d", f, n)
			assert.Equal(t, n, w.Count())
		}
	}
}

func TestStreamWriter_CloseTwiceWrapsOnce(t *testing.T) {
	events := sampleEvents(1)
	for _, f := range Formats {
		for _, n := range []int{0, 1} {
			want, err := FormatAll(events[:n], f, false)
			require.NoError(t, err)

			var buf bytes.Buffer
			w := NewStreamWriter(&buf, f, false)
			for _, ev := range events[:n] {
				require.NoError(t, w.Append(ev))
			}
			require.NoError(t, w.Close())
			require.NoError(t, w.Close())
			assert.Equal(t, want, buf.String(), "%s n=%d", f, n)

			assert.ErrorIs(t, w.Append(events[0]), ErrClosed)
			assert.Equal(t, want, buf.String(), "append after close writes nothing")
		}
	}
}

func TestStreamWriter_Continue(t *testing.T) {
	events := sampleEvents(2)
	first, err := FormatAll(events[:1], YAML, false)
	require.NoError(t, err)

	buf := bytes.NewBufferString(first)
	w := NewStreamWriter(buf, YAML, false)
	w.Continue()
	require.NoError(t, w.Append(events[1]))
	require.NoError(t, w.Close())

	want, err := FormatAll(events, YAML, false)
	require.NoError(t, err)
	assert.Equal(t, want, buf.String())
}

func TestValidate(t *testing.T) {
	for _, f := range Formats {
		assert.NoError(t, Validate(sampleEvents(2), f))
	}
	assert.Error(t, Validate(sampleEvents(1), Format("xml")))
}
