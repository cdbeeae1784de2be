package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perceptlog/internal/script"
)

const sshdScript = "../../examples/scripts/sshd_auth.star"

func loadSSHD(t *testing.T, workers int) *Engine {
	t.Helper()
	e, err := LoadEngine(sshdScript, script.Options{}, Options{Workers: workers})
	require.NoError(t, err)
	return e
}

func TestLoadEngine_MissingScriptIsIOError(t *testing.T) {
	_, err := LoadEngine(filepath.Join(t.TempDir(), "absent.star"), script.Options{}, Options{})
	require.Error(t, err)
	assert.Equal(t, KindIO, KindOf(err))
}

func TestEngine_TransformLine(t *testing.T) {
	e := loadSSHD(t, 1)
	ev, err := e.TransformLine(context.Background(),
		"Oct 19 10:00:01 web-1 sshd[311]: Accepted password for alice from 10.0.0.1 port 22 ssh2")
	require.NoError(t, err)
	assert.Equal(t, int32(3002), ev.ClassUID)
	assert.Equal(t, "Success", ev.Status)
	require.NotNil(t, ev.User)
	assert.Equal(t, "alice", ev.User.Name)
	require.NotNil(t, ev.DstEndpoint)
	assert.Equal(t, "web-1", *ev.DstEndpoint.Hostname)

	require.Positive(t, ev.Time, "syslog stamp resolves to a real year")
	at := time.UnixMilli(ev.Time).UTC()
	assert.Equal(t, time.October, at.Month())
	assert.Equal(t, 19, at.Day())
	assert.Equal(t, 10, at.Hour())
	assert.False(t, at.After(time.Now().Add(24*time.Hour)), "never more than a day ahead")
	assert.GreaterOrEqual(t, at.Year(), time.Now().UTC().Year()-1)

	bare, err := e.TransformLine(context.Background(), "Accepted password for bob from 10.0.0.2 port 22 ssh2")
	require.NoError(t, err)
	assert.Positive(t, bare.Time, "lines without a header are stamped now")

	_, err = e.TransformLine(context.Background(), "kernel: eth0 link up")
	require.Error(t, err)
	assert.Equal(t, KindExecution, KindOf(err))
}

func TestEngine_TransformBatchExample(t *testing.T) {
	e := loadSSHD(t, 4)
	results := e.TransformBatch(context.Background(), []string{
		"Accepted password for alice from 10.0.0.1 port 22 ssh2",
		"",
		"Failed password for bob from 10.0.0.2 port 22 ssh2",
	})
	require.Len(t, results, 3)

	var users []string
	for i, r := range results {
		assert.Equal(t, i+1, r.Line)
		require.NoError(t, r.Err)
		if r.Skipped {
			continue
		}
		users = append(users, r.Event.User.Name)
	}
	assert.Equal(t, []string{"alice", "bob"}, users)
	assert.True(t, results[1].Skipped)
	assert.Equal(t, "Failure", results[2].Event.Status)
}

func TestEngine_TransformBatchKeepsOrderAndCount(t *testing.T) {
	e := loadSSHD(t, 8)
	lines := make([]string, 200)
	for i := range lines {
		if i%7 == 3 {
			lines[i] = fmt.Sprintf("garbage %d", i)
			continue
		}
		lines[i] = fmt.Sprintf("Accepted publickey for u%d from 10.0.0.%d port %d ssh2", i, i%250, 1000+i)
	}

	results := e.TransformBatch(context.Background(), lines)
	require.Len(t, results, len(lines))
	for i, r := range results {
		require.Equal(t, i+1, r.Line)
		if i%7 == 3 {
			assert.Error(t, r.Err, "line %d", i+1)
			assert.Nil(t, r.Event)
			continue
		}
		require.NoError(t, r.Err, "line %d", i+1)
		assert.Equal(t, fmt.Sprintf("u%d", i), r.Event.User.Name)
	}
}

func TestEngine_TransformStreamWindow(t *testing.T) {
	e := loadSSHD(t, 2)
	in := make(chan Line)
	go func() {
		defer close(in)
		for i := 1; i <= 20; i++ {
			in <- Line{No: i * 10, Text: fmt.Sprintf("Failed password for u%d from 10.1.1.1 port 22 ssh2", i)}
		}
	}()

	var got []int
	for r := range e.TransformStream(context.Background(), in, 3) {
		require.NoError(t, r.Err)
		got = append(got, r.Line)
	}
	require.Len(t, got, 20)
	for i, n := range got {
		assert.Equal(t, (i+1)*10, n)
	}
}

func TestEngine_TransformBatchCancelled(t *testing.T) {
	e := loadSSHD(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.TransformBatch(ctx, []string{"a", "b", "c"})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Error(t, r.Err)
	}
}

func TestEngine_ReloadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tag.star")
	require.NoError(t, os.WriteFile(path, []byte(tagV1), 0o644))

	e, err := LoadEngine(path, script.Options{}, Options{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("def transform(:"), 0o644))
	assert.Equal(t, KindCompile, KindOf(e.ReloadFile(path)))
	assert.Equal(t, uint64(1), e.Generation())

	require.NoError(t, os.WriteFile(path, []byte(tagV2), 0o644))
	require.NoError(t, e.ReloadFile(path))
	assert.Equal(t, uint64(2), e.Generation())

	assert.Equal(t, KindIO, KindOf(e.ReloadFile(filepath.Join(dir, "gone.star"))))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("ok.star", tagV1))
	assert.Equal(t, KindCompile, KindOf(Validate("bad.star", "transform = 1")))
}

func TestEngine_StepBudget(t *testing.T) {
	h, err := NewHandle("loop.star", `
def transform(event):
    n = 0
    while True:
        n += 1
`, script.Options{MaxSteps: 10000})
	require.NoError(t, err)
	e := NewEngine(h, Options{Workers: 1})

	done := make(chan error, 1)
	go func() {
		_, err := e.TransformLine(context.Background(), "x")
		done <- err
	}()
	select {
	case err := <-done:
		assert.Equal(t, KindExecution, KindOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("step budget did not stop the script")
	}
}
