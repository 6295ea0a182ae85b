package middleware

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongceg/fluxmux/internal/config"
	"github.com/cuongceg/fluxmux/internal/core"
)

// recSink records every write; the first failFirst writes fail.
type recSink struct {
	mu        sync.Mutex
	writes    []core.Batch
	at        []time.Time
	failFirst int
	calls     int
	flushed   int
	closed    bool
}

func (s *recSink) Name() string                   { return "rec" }
func (s *recSink) Open(ctx context.Context) error { return nil }
func (s *recSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.flushed++
	s.mu.Unlock()
	return nil
}
func (s *recSink) Close() error { s.closed = true; return nil }

func (s *recSink) Write(ctx context.Context, b core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return core.WriteError("rec", errors.New("broker unavailable"))
	}
	s.writes = append(s.writes, append(core.Batch(nil), b...))
	s.at = append(s.at, time.Now())
	return nil
}

func (s *recSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.writes {
		n += len(w)
	}
	return n
}

func newState() *core.SinkState {
	return core.NewRunState("test", zerolog.Nop()).Sink("rec")
}

func recs(n int) []core.Record {
	out := make([]core.Record, n)
	for i := range out {
		out[i] = core.RecordOf("i", i)
	}
	return out
}

func writeEach(t *testing.T, s core.Sink, rs []core.Record) {
	t.Helper()
	for _, r := range rs {
		require.NoError(t, s.Write(context.Background(), core.Batch{r}))
	}
}

func TestBatchBySizeAndFinalPartial(t *testing.T) {
	inner := &recSink{}
	st := newState()
	s, err := Build(inner, config.Middleware{BatchSize: 3, BatchTimeout: time.Hour}, config.Policy{}, st, zerolog.Nop())
	require.NoError(t, err)

	writeEach(t, s, recs(7))
	assert.Len(t, inner.writes, 2)
	assert.EqualValues(t, 1, st.Pending.Load())

	require.NoError(t, s.Flush(context.Background()))
	require.Len(t, inner.writes, 3)
	assert.Len(t, inner.writes[2], 1)
	assert.Equal(t, 7, inner.delivered())
	assert.EqualValues(t, 7, st.Delivered.Load())
	assert.EqualValues(t, 0, st.Pending.Load())
	assert.Equal(t, 1, inner.flushed)
}

func TestBatchByTimeout(t *testing.T) {
	inner := &recSink{}
	st := newState()
	s := NewBatch(inner, 100, 20*time.Millisecond, st)
	writeEach(t, s, recs(2))

	assert.Eventually(t, func() bool { return inner.delivered() == 2 }, time.Second, 5*time.Millisecond)
	inner.mu.Lock()
	assert.Len(t, inner.writes, 1)
	inner.mu.Unlock()
	assert.EqualValues(t, 0, st.Pending.Load())
}

func TestBatchTimerFailureKeepsNextRecord(t *testing.T) {
	inner := &recSink{failFirst: 1}
	st := newState()
	s, err := Build(inner, config.Middleware{BatchSize: 10, BatchTimeout: 20 * time.Millisecond, RetryMaxAttempts: 1}, config.Policy{}, st, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, core.Batch{core.RecordOf("i", 1)}))
	require.Eventually(t, func() bool { return st.Failed.Load() == 1 }, time.Second, 5*time.Millisecond)

	// the timer's delivery error surfaces here, but record 2 is buffered
	err = s.Write(ctx, core.Batch{core.RecordOf("i", 2)})
	assert.True(t, core.IsKind(err, core.KindDelivery), "got %v", err)
	assert.EqualValues(t, 1, st.Pending.Load())

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, inner.delivered())
	assert.True(t, inner.writes[0][0].Equal(core.RecordOf("i", 2)))

	accounted := st.Delivered.Load() + st.Failed.Load() + st.Dropped.Load() + st.Pending.Load()
	assert.EqualValues(t, 2, accounted)
}

func TestBatchPreservesOrder(t *testing.T) {
	inner := &recSink{}
	s := NewBatch(inner, 4, 0, newState())
	writeEach(t, s, recs(10))
	require.NoError(t, s.Flush(context.Background()))

	i := 0
	for _, w := range inner.writes {
		for _, r := range w {
			assert.True(t, r.Equal(core.RecordOf("i", i)))
			i++
		}
	}
	assert.Equal(t, 10, i)
}

func TestDedup(t *testing.T) {
	in := []core.Record{
		core.RecordOf("a", 1, "b", "x"),
		core.RecordOf("b", "x", "a", 1),
		core.RecordOf("a", 2),
		core.RecordOf("a", 1, "b", "x"),
	}

	inner := &recSink{}
	st := newState()
	s, _ := Build(inner, config.Middleware{Deduplicate: true}, config.Policy{}, st, zerolog.Nop())
	writeEach(t, s, in)
	assert.Equal(t, 2, inner.delivered())
	assert.EqualValues(t, 2, st.Dropped.Load())

	inner = &recSink{}
	s, _ = Build(inner, config.Middleware{}, config.Policy{}, newState(), zerolog.Nop())
	writeEach(t, s, in)
	assert.Equal(t, 4, inner.delivered())
}

func TestThrottleSpacesWrites(t *testing.T) {
	inner := &recSink{}
	s := NewThrottle(inner, 50)
	writeEach(t, s, recs(5))

	require.Len(t, inner.at, 5)
	for i := 1; i < len(inner.at); i++ {
		gap := inner.at[i].Sub(inner.at[i-1])
		assert.GreaterOrEqual(t, gap, 15*time.Millisecond, "write %d came after %v", i, gap)
	}
}

func TestThrottleHonoursCancel(t *testing.T) {
	s := NewThrottle(&recSink{}, 0.01)
	require.NoError(t, s.Write(context.Background(), core.Batch{core.RecordOf("a", 1)}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Write(ctx, core.Batch{core.RecordOf("a", 2)})
	assert.Error(t, err)
}

func TestRetrySucceedsOnAttemptK(t *testing.T) {
	inner := &recSink{failFirst: 2}
	st := newState()
	s, _ := Build(inner, config.Middleware{RetryMaxAttempts: 3, RetryDelay: time.Millisecond}, config.Policy{}, st, zerolog.Nop())

	require.NoError(t, s.Write(context.Background(), core.Batch{core.RecordOf("a", 1)}))
	assert.Equal(t, 1, inner.delivered())
	assert.EqualValues(t, 3, st.Attempts.Load())
	assert.EqualValues(t, 1, st.Delivered.Load())
	assert.EqualValues(t, 0, st.Failed.Load())
}

func TestRetryExhausted(t *testing.T) {
	inner := &recSink{failFirst: 100}
	st := newState()
	s, _ := Build(inner, config.Middleware{RetryMaxAttempts: 3, RetryDelay: time.Millisecond}, config.Policy{}, st, zerolog.Nop())

	err := s.Write(context.Background(), core.Batch{core.RecordOf("a", 1)})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindDelivery), "got %v", err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, 0, inner.delivered())
	assert.EqualValues(t, 3, st.Attempts.Load())
	assert.EqualValues(t, 1, st.Failed.Load())
}

func TestNoRetryConfiguredMakesOneAttempt(t *testing.T) {
	inner := &recSink{failFirst: 1}
	st := newState()
	s, _ := Build(inner, config.Middleware{}, config.Policy{}, st, zerolog.Nop())
	err := s.Write(context.Background(), core.Batch{core.RecordOf("a", 1)})
	assert.True(t, core.IsKind(err, core.KindDelivery))
	assert.EqualValues(t, 1, st.Attempts.Load())
}

func writeSchema(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.json")
	doc := `{"type":"object","required":["id"],"properties":{"id":{"type":"integer"},"name":{"type":"string"}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestSchemaDropAndHalt(t *testing.T) {
	path := writeSchema(t)
	in := []core.Record{
		core.RecordOf("id", 1, "name", "Ann"),
		core.RecordOf("name", "no id"),
		core.RecordOf("id", "two"),
	}

	inner := &recSink{}
	st := newState()
	s, err := Build(inner, config.Middleware{SchemaPath: path}, config.Policy{OnInvalid: config.InvalidDrop}, st, zerolog.Nop())
	require.NoError(t, err)
	writeEach(t, s, in)
	assert.Equal(t, 1, inner.delivered())
	assert.EqualValues(t, 2, st.Dropped.Load())

	s, _ = Build(&recSink{}, config.Middleware{SchemaPath: path}, config.Policy{OnInvalid: config.InvalidHalt}, newState(), zerolog.Nop())
	err = s.Write(context.Background(), core.Batch{in[1]})
	assert.True(t, core.IsKind(err, core.KindValidation), "got %v", err)
	assert.Contains(t, err.Error(), "id")
}

// tableSink only accepts records whose fields are all columns.
type tableSink struct {
	*recSink
	columns map[string]bool
}

func (s tableSink) CheckRecord(ctx context.Context, rec core.Record) error {
	for _, k := range rec.Keys() {
		if !s.columns[k] {
			return core.ValidationError("table", errors.New("no column "+k))
		}
	}
	return nil
}

func TestShapeCheckFollowsInvalidPolicy(t *testing.T) {
	in := []core.Record{core.RecordOf("id", 1), core.RecordOf("id", 2, "extra", 1), core.RecordOf("id", 3)}

	sink := tableSink{&recSink{}, map[string]bool{"id": true}}
	st := newState()
	s, err := Build(core.SinkWithLog{Next: sink, Log: zerolog.Nop()}, config.Middleware{RetryMaxAttempts: 3}, config.Policy{OnInvalid: config.InvalidDrop}, st, zerolog.Nop())
	require.NoError(t, err)
	writeEach(t, s, in)
	assert.Equal(t, 2, sink.delivered())
	assert.EqualValues(t, 1, st.Dropped.Load())
	assert.EqualValues(t, 2, st.Attempts.Load(), "invalid records are not retried")

	sink = tableSink{&recSink{}, map[string]bool{"id": true}}
	s, _ = Build(sink, config.Middleware{}, config.Policy{OnInvalid: config.InvalidHalt}, newState(), zerolog.Nop())
	err = s.Write(context.Background(), core.Batch{in[1]})
	assert.True(t, core.IsKind(err, core.KindValidation), "got %v", err)
	assert.Equal(t, 0, sink.delivered())
}

func TestSchemaMissingFile(t *testing.T) {
	_, err := Build(&recSink{}, config.Middleware{SchemaPath: "/nonexistent/schema.json"}, config.Policy{}, newState(), zerolog.Nop())
	assert.True(t, core.IsKind(err, core.KindConfiguration))
}

func TestCloseStopsBatchTimer(t *testing.T) {
	inner := &recSink{}
	s := NewBatch(inner, 10, 10*time.Millisecond, newState())
	writeEach(t, s, recs(1))
	require.NoError(t, s.Close())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, inner.delivered())
	assert.True(t, inner.closed)
}
