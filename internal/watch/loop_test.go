package watch

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perceptlog/internal/config"
	"perceptlog/internal/pipeline"
)

const sshdScript = "../../examples/scripts/sshd_auth.star"

const (
	aliceLine = "Accepted password for alice from 10.0.0.1 port 22 ssh2"
	bobLine   = "Failed password for bob from 10.0.0.2 port 22 ssh2"
)

type fakeNotifier struct {
	events chan Event

	mu     sync.Mutex
	added  []string
	closed bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(chan Event, 16)}
}

func (f *fakeNotifier) Add(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, path)
	return nil
}

func (f *fakeNotifier) Events() <-chan Event { return f.events }
func (f *fakeNotifier) Errors() <-chan error { return nil }

func (f *fakeNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeNotifier) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fixture struct {
	in, out, script string
	proc            *pipeline.Processor
	n               *fakeNotifier
	loop            *Loop
	stop            func()
	done            chan error
}

func startLoop(t *testing.T, appendMode, hotReload bool) *fixture {
	t.Helper()
	root := t.TempDir()
	fx := &fixture{
		in:     filepath.Join(root, "logs"),
		out:    filepath.Join(root, "logs", "ocsf"),
		script: filepath.Join(root, "auth.star"),
		n:      newFakeNotifier(),
		done:   make(chan error, 1),
	}
	require.NoError(t, os.MkdirAll(fx.in, 0o755))
	src, err := os.ReadFile(sshdScript)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fx.script, src, 0o644))

	cfg, err := config.Load(config.LoadOptions{Set: map[string]any{
		"script": fx.script,
		"output": fx.out,
	}})
	require.NoError(t, err)
	fx.proc, err = pipeline.Build(cfg, appendMode)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fx.proc.Close() })

	fx.loop, err = NewLoop(fx.proc, fx.n, Options{
		Input:     fx.in,
		Output:    fx.out,
		Script:    fx.script,
		HotReload: hotReload,
		Append:    appendMode,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { fx.done <- fx.loop.Run(ctx) }()
	fx.stop = func() {
		cancel()
		select {
		case err := <-fx.done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("loop did not stop")
		}
	}
	t.Cleanup(cancel)
	return fx
}

func (fx *fixture) write(t *testing.T, name string, lines ...string) string {
	t.Helper()
	p := filepath.Join(fx.in, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return p
}

func (fx *fixture) appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return -1
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestLoop_ProcessesChangedFiles(t *testing.T) {
	fx := startLoop(t, false, false)

	a := fx.write(t, "a.log", aliceLine)
	b := fx.write(t, "b.log", aliceLine, bobLine)
	fx.n.events <- Event{Path: a, Op: Create}
	fx.n.events <- Event{Path: b, Op: Write}

	require.Eventually(t, func() bool {
		return countLines(filepath.Join(fx.out, "a.ndjson")) == 1 &&
			countLines(filepath.Join(fx.out, "b.ndjson")) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// A second change rewrites the whole output.
	fx.appendLines(t, a, bobLine)
	fx.n.events <- Event{Path: a, Op: Write}
	require.Eventually(t, func() bool {
		return countLines(filepath.Join(fx.out, "a.ndjson")) == 2
	}, 5*time.Second, 10*time.Millisecond)

	fx.stop()
	assert.True(t, fx.n.isClosed())
	assert.Equal(t, State(Idle), fx.loop.State())
}

func TestLoop_IgnoresIneligibleAndOutputPaths(t *testing.T) {
	fx := startLoop(t, false, false)

	notes := fx.write(t, "notes.md", aliceLine)
	own := fx.write(t, filepath.Join("ocsf", "loop.log"), aliceLine)
	fx.n.events <- Event{Path: notes, Op: Create}
	fx.n.events <- Event{Path: own, Op: Create}
	fx.n.events <- Event{Path: filepath.Join(fx.in, "gone.log"), Op: Remove}
	fx.n.events <- Event{Path: filepath.Join(fx.in, "missing.log"), Op: Write}

	sentinel := fx.write(t, "z.log", bobLine)
	fx.n.events <- Event{Path: sentinel, Op: Create}
	require.Eventually(t, func() bool {
		return countLines(filepath.Join(fx.out, "z.ndjson")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	fx.stop()
	assert.EqualValues(t, 1, fx.loop.Processed())
	assert.NoFileExists(t, filepath.Join(fx.out, "notes.ndjson"))
	assert.NoFileExists(t, filepath.Join(fx.out, "loop.ndjson"))
}

func TestLoop_AppendReadsOnlyNewLines(t *testing.T) {
	fx := startLoop(t, true, false)
	out := filepath.Join(fx.out, "auth.ndjson")

	p := fx.write(t, "auth.log", aliceLine)
	fx.n.events <- Event{Path: p, Op: Create}
	require.Eventually(t, func() bool { return countLines(out) == 1 }, 5*time.Second, 10*time.Millisecond)

	fx.appendLines(t, p, bobLine)
	fx.n.events <- Event{Path: p, Op: Write}
	require.Eventually(t, func() bool { return countLines(out) == 2 }, 5*time.Second, 10*time.Millisecond)

	// Truncation starts over.
	fx.write(t, "auth.log", bobLine)
	fx.n.events <- Event{Path: p, Op: Write}
	require.Eventually(t, func() bool { return countLines(out) == 3 }, 5*time.Second, 10*time.Millisecond)

	fx.stop()
}

func TestLoop_FailedFileDoesNotStopLoop(t *testing.T) {
	fx := startLoop(t, false, false)

	// Strict policy: the unparseable line aborts this file only.
	bad := fx.write(t, "bad.log", "kernel: noise", aliceLine)
	fx.n.events <- Event{Path: bad, Op: Create}

	good := fx.write(t, "good.log", aliceLine)
	fx.n.events <- Event{Path: good, Op: Create}
	require.Eventually(t, func() bool {
		return countLines(filepath.Join(fx.out, "good.ndjson")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	fx.stop()
	assert.EqualValues(t, 2, fx.loop.Processed())
	assert.NoFileExists(t, filepath.Join(fx.out, "bad.ndjson"))
}

func TestLoop_HotReload(t *testing.T) {
	fx := startLoop(t, false, true)
	require.Equal(t, uint64(1), fx.proc.Engine().Generation())

	fx.n.events <- Event{Path: fx.script, Op: Write}
	require.Eventually(t, func() bool { return fx.proc.Engine().Generation() == 2 },
		5*time.Second, 10*time.Millisecond)

	// A broken script keeps the running program.
	require.NoError(t, os.WriteFile(fx.script, []byte("def transform(event):\n  return (\n"), 0o644))
	fx.n.events <- Event{Path: fx.script, Op: Write}

	fx.loop.TriggerReload()
	p := fx.write(t, "after.log", aliceLine)
	fx.n.events <- Event{Path: p, Op: Create}
	require.Eventually(t, func() bool {
		return countLines(filepath.Join(fx.out, "after.ndjson")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	fx.stop()
	assert.Equal(t, uint64(2), fx.proc.Engine().Generation())
	assert.Contains(t, fx.n.added, fx.script)
}

func TestLoop_ScriptChangeIgnoredWithoutHotReload(t *testing.T) {
	fx := startLoop(t, false, false)

	fx.n.events <- Event{Path: fx.script, Op: Write}
	p := fx.write(t, "a.log", aliceLine)
	fx.n.events <- Event{Path: p, Op: Create}
	require.Eventually(t, func() bool {
		return countLines(filepath.Join(fx.out, "a.ndjson")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	fx.stop()
	assert.Equal(t, uint64(1), fx.proc.Engine().Generation())
	assert.NotContains(t, fx.n.added, fx.script)
}
