package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongceg/fluxmux/internal/action"
	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/config"
	_ "github.com/cuongceg/fluxmux/internal/connector/file"
	"github.com/cuongceg/fluxmux/internal/core"
	"github.com/cuongceg/fluxmux/internal/middleware"
)

// memSink keeps what it is given; with fail set every write fails.
type memSink struct {
	name string
	fail bool

	mu      sync.Mutex
	got     []core.Record
	flushed bool
	closed  bool
}

func (s *memSink) Name() string                { return s.name }
func (s *memSink) Open(context.Context) error  { return nil }
func (s *memSink) Close() error                { s.mu.Lock(); s.closed = true; s.mu.Unlock(); return nil }
func (s *memSink) Flush(context.Context) error { s.mu.Lock(); s.flushed = true; s.mu.Unlock(); return nil }
func (s *memSink) records() []core.Record      { s.mu.Lock(); defer s.mu.Unlock(); return append([]core.Record(nil), s.got...) }
func (s *memSink) Write(_ context.Context, b core.Batch) error {
	if s.fail {
		return core.WriteError(s.name, errors.New("connection reset"))
	}
	s.mu.Lock()
	s.got = append(s.got, b...)
	s.mu.Unlock()
	return nil
}

// sliceSource yields recs; with block set it then waits for cancellation
// instead of ending.
type sliceSource struct {
	recs    []core.Record
	i       int
	block   bool
	blocked chan struct{}
}

func (s *sliceSource) Name() string               { return "slice" }
func (s *sliceSource) Open(context.Context) error { return nil }
func (s *sliceSource) Close() error               { return nil }
func (s *sliceSource) Next(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return core.Record{}, err
	}
	if s.i < len(s.recs) {
		s.i++
		return s.recs[s.i-1], nil
	}
	if !s.block {
		return core.Record{}, io.EOF
	}
	close(s.blocked)
	<-ctx.Done()
	return core.Record{}, ctx.Err()
}

func numbered(n int) []core.Record {
	out := make([]core.Record, n)
	for i := range out {
		out[i] = core.RecordOf("i", i)
	}
	return out
}

// runFakes runs pipe over src and sinks through the real executor
// lifecycle, skipping descriptor resolution.
func runFakes(t *testing.T, ctx context.Context, pipe config.Pipeline, src core.Source, sinks ...core.Sink) Result {
	t.Helper()
	e := New(&config.Config{Pipeline: pipe}, Options{})
	p := e.cfg.Pipeline
	return e.runWith(ctx, func() (*assembly, error) {
		chain, err := action.Build(p.Actions, p.Policy, p.Seed, e.log)
		if err != nil {
			return nil, err
		}
		a := &assembly{source: src, chain: chain}
		for _, s := range sinks {
			st := e.state.Sink(s.Name())
			w, err := middleware.Build(s, p.Middleware, p.Policy, st, e.log)
			if err != nil {
				return nil, err
			}
			a.paths = append(a.paths, &path{sink: w, st: st, log: e.log})
		}
		return a, nil
	})
}

func report(t *testing.T, res Result, name string) SinkReport {
	t.Helper()
	for _, s := range res.Sinks {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no report for sink %s", name)
	return SinkReport{}
}

func retrying(policy config.SinkFailurePolicy) config.Pipeline {
	return config.Pipeline{
		Middleware: config.Middleware{RetryMaxAttempts: 2, RetryDelay: time.Millisecond},
		Policy:     config.Policy{OnSinkFailure: policy},
	}
}

func TestTeeIsolatesFailingSink(t *testing.T) {
	a, b, c := &memSink{name: "a"}, &memSink{name: "b", fail: true}, &memSink{name: "c"}
	res := runFakes(t, context.Background(), retrying(config.SinkContinue), &sliceSource{recs: numbered(5)}, a, b, c)

	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, "ok", res.StatusText())
	assert.Len(t, a.records(), 5)
	assert.Len(t, c.records(), 5)

	rb := report(t, res, "b")
	assert.EqualValues(t, 5, rb.Attempted)
	assert.EqualValues(t, 0, rb.Delivered)
	assert.EqualValues(t, 5, rb.Failed)
	assert.EqualValues(t, 10, rb.Attempts)
	assert.True(t, core.IsKind(rb.Err, core.KindDelivery))
	assert.Len(t, res.Errors, 5)

	ra := report(t, res, "a")
	assert.EqualValues(t, 5, ra.Attempted)
	assert.EqualValues(t, 5, ra.Delivered)
	assert.EqualValues(t, 5, ra.Attempts)
	assert.NoError(t, ra.Err)
	assert.True(t, a.closed)
}

func TestTeeDetachesFailingSink(t *testing.T) {
	a, b := &memSink{name: "a"}, &memSink{name: "b", fail: true}
	res := runFakes(t, context.Background(), retrying(config.SinkDetach), &sliceSource{recs: numbered(20)}, a, b)

	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Len(t, a.records(), 20)
	rb := report(t, res, "b")
	assert.True(t, rb.Detached)
	assert.EqualValues(t, 2, rb.Attempts)
	assert.EqualValues(t, rb.Attempted, rb.Failed)
	assert.Len(t, res.Errors, 1)
}

func TestTeeHaltsRun(t *testing.T) {
	a, b := &memSink{name: "a"}, &memSink{name: "b", fail: true}
	res := runFakes(t, context.Background(), retrying(config.SinkHalt), &sliceSource{recs: numbered(1000)}, a, b)

	require.False(t, res.OK())
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.True(t, core.IsKind(res.Err, core.KindDelivery), "err: %v", res.Err)
	assert.Less(t, res.RecordsRead, int64(1000))
	assert.Contains(t, res.Transcript, "halting run")
}

func TestCancellationDrainsBatches(t *testing.T) {
	sink := &memSink{name: "mem"}
	src := &sliceSource{recs: numbered(3), block: true, blocked: make(chan struct{})}
	pipe := config.Pipeline{
		Middleware:   config.Middleware{BatchSize: 100, BatchTimeout: time.Hour},
		DrainTimeout: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-src.blocked
		cancel()
	}()
	res := runFakes(t, ctx, pipe, src, sink)

	require.False(t, res.OK())
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Len(t, sink.records(), 3)
	r := report(t, res, "mem")
	assert.EqualValues(t, 3, r.Delivered)
	assert.EqualValues(t, 0, r.Pending)
	assert.Contains(t, res.Transcript, "draining after cancellation")
}

func TestRunOnlyOnce(t *testing.T) {
	e := New(&config.Config{Pipeline: config.Pipeline{}}, Options{})
	first := e.runWith(context.Background(), func() (*assembly, error) {
		return nil, core.ConfigError("test", "nothing to run")
	})
	assert.Equal(t, core.StatusFailed, first.Status)
	assert.Equal(t, core.StatusFailed, e.Status())

	second := e.Run(context.Background())
	assert.ErrorContains(t, second.Err, "already started")
}

// file based runs

const people = `[
  {"name": "Ann", "age": 31},
  {"name": "Bob", "age": 24},
  {"name": "Chi", "age": 27},
  {"name": "Dan", "age": 26},
  {"name": "Eve", "age": 40}
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readRecords(t *testing.T, path string) []core.Record {
	t.Helper()
	d, err := core.ParseDescriptor("file:"+path, core.RoleSource)
	require.NoError(t, err)
	c, err := codec.ForName(d.Format())
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := codec.DecodeAll(c, f)
	require.NoError(t, err)
	return recs
}

func names(recs []core.Record) []string {
	var out []string
	for _, r := range recs {
		v, _ := r.Get("name")
		out = append(out, v.Text())
	}
	return out
}

func TestRunFilterToTwoFileSinks(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.json", people)
	outJSON := filepath.Join(dir, "out", "adults.ndjson")
	outCSV := filepath.Join(dir, "out", "adults.csv")

	cfg, err := config.Load([]byte(fmt.Sprintf(`
app:
  log_level: debug
pipeline:
  source: "file:%s"
  actions:
    - type: filter
      param: "age>26"
  sinks:
    - "file:%s"
    - "file:%s"
  middleware:
    batch_size: 2
`, in, outJSON, outCSV)))
	require.NoError(t, err)

	var logOut strings.Builder
	res := Run(context.Background(), cfg, Options{LogOutput: &syncWriter{w: &logOut}})
	require.True(t, res.OK(), "err: %v\n%s", res.Err, res.Transcript)

	assert.EqualValues(t, 5, res.RecordsRead)
	assert.EqualValues(t, 2, res.ActionDropped)
	require.Len(t, res.Sinks, 2)
	for _, s := range res.Sinks {
		assert.EqualValues(t, 3, s.Attempted)
		assert.EqualValues(t, 3, s.Delivered)
		assert.EqualValues(t, 2, s.Attempts)
	}
	assert.Equal(t, []string{"Ann", "Chi", "Eve"}, names(readRecords(t, outJSON)))
	assert.Equal(t, []string{"Ann", "Chi", "Eve"}, names(readRecords(t, outCSV)))
	assert.Contains(t, res.Transcript, "pipeline start")
	assert.Contains(t, logOut.String(), "run finished")
	assert.Contains(t, res.Summary(), "delivered=3")
}

func TestRunLimitStopsSource(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "{\"name\":\"n%d\"}\n", i)
	}
	in := writeFile(t, dir, "in.ndjson", sb.String())
	out := filepath.Join(dir, "out.json")

	cfg, err := config.Load([]byte(fmt.Sprintf(`
pipeline:
  source: "file:%s"
  actions:
    - {type: limit, param: "2"}
  sinks: ["file:%s"]
`, in, out)))
	require.NoError(t, err)

	res := Run(context.Background(), cfg, Options{})
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.EqualValues(t, 2, res.RecordsRead)
	assert.Equal(t, []string{"n0", "n1"}, names(readRecords(t, out)))
}

func TestRunParseErrorFails(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.ndjson", "{\"name\":\"a\"}\n{\"name\":\"b\"}\n{broken\n{\"name\":\"c\"}\n")
	out := filepath.Join(dir, "out.ndjson")

	cfg, err := config.Bridge("file:"+in, "file:"+out, config.Middleware{})
	require.NoError(t, err)
	res := Run(context.Background(), cfg, Options{})

	require.False(t, res.OK())
	assert.True(t, core.IsKind(res.Err, core.KindParse), "err: %v", res.Err)
	assert.EqualValues(t, 2, res.RecordsRead)
	// records read before the bad line are still delivered
	assert.Equal(t, []string{"a", "b"}, names(readRecords(t, out)))
}

func TestRunUnreachableSourceIsConnectError(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Bridge("file:"+filepath.Join(dir, "missing.json"), "file:"+filepath.Join(dir, "out.json"), config.Middleware{})
	require.NoError(t, err)

	res := Run(context.Background(), cfg, Options{})
	require.False(t, res.OK())
	assert.True(t, core.IsKind(res.Err, core.KindConnect))
	assert.Contains(t, res.Transcript, "run failed")
	assert.Equal(t, "error", res.StatusText())
}

func TestRunRejectsBadAction(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.json", people)
	cfg := &config.Config{Pipeline: config.Pipeline{
		Source:  "file:" + in,
		Actions: []config.ActionSpec{{Type: config.ActionFilter, Param: "age >"}},
		Sinks:   []string{"file:" + filepath.Join(dir, "out.json")},
	}}
	res := Run(context.Background(), cfg, Options{})
	require.False(t, res.OK())
	assert.True(t, core.IsKind(res.Err, core.KindConfiguration), "err: %v", res.Err)
	assert.EqualValues(t, 0, res.RecordsRead)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
