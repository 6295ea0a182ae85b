package redis

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongceg/fluxmux/internal/core"
)

// memList is an in-memory stand-in for the list commands used here.
type memList struct {
	lists   map[string][]string
	pingErr error
}

func newMem() *memList { return &memList{lists: map[string][]string{}} }

func (m *memList) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", m.pingErr)
}

func (m *memList) RPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	for _, v := range values {
		m.lists[key] = append(m.lists[key], string(v.([]byte)))
	}
	return redis.NewIntResult(int64(len(m.lists[key])), nil)
}

func (m *memList) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	l := m.lists[key]
	if start >= int64(len(l)) {
		return redis.NewStringSliceResult(nil, nil)
	}
	if stop >= int64(len(l)) {
		stop = int64(len(l)) - 1
	}
	return redis.NewStringSliceResult(append([]string(nil), l[start:stop+1]...), nil)
}

func (m *memList) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	l := m.lists[keys[0]]
	if len(l) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	m.lists[keys[0]] = l[1:]
	return redis.NewStringSliceResult([]string{keys[0], l[0]}, nil)
}

func (m *memList) Close() error { return nil }

func open(t *testing.T, raw string, role core.Role, mem *memList) any {
	t.Helper()
	d, err := core.ParseDescriptor(raw, role)
	require.NoError(t, err)
	var b *base
	var out any
	if role == core.RoleSource {
		s, err := NewSource(d, zerolog.Nop())
		require.NoError(t, err)
		b, out = &s.(*Source).base, s
	} else {
		s, err := NewSink(d, zerolog.Nop())
		require.NoError(t, err)
		b, out = &s.(*Sink).base, s
	}
	b.newClient = func(Config) listClient { return mem }
	require.NoError(t, b.Open(context.Background()))
	return out
}

func TestSinkThenSnapshotSource(t *testing.T) {
	mem := newMem()
	ctx := context.Background()
	sink := open(t, "redis://localhost:6379/0?key=people", core.RoleSink, mem).(*Sink)

	var batch core.Batch
	for i := 0; i < pageSize+3; i++ {
		batch = append(batch, core.RecordOf("i", i))
	}
	require.NoError(t, sink.Write(ctx, batch))

	src := open(t, "redis://localhost:6379/0?key=people", core.RoleSource, mem).(*Source)
	n := 0
	for {
		rec, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		v, _ := rec.Get("i")
		assert.True(t, v.Equal(core.Int(int64(n))))
		n++
	}
	assert.Equal(t, pageSize+3, n)
	assert.Len(t, mem.lists["people"], pageSize+3, "snapshot mode leaves the list intact")
}

func TestPopSourceDrainsList(t *testing.T) {
	mem := newMem()
	mem.lists["jobs"] = []string{`{"a":1}`, `{"a":2}`}
	src := open(t, "redis://localhost:6379?key=jobs&pop=true&idle=10ms", core.RoleSource, mem).(*Source)

	for i := 0; i < 2; i++ {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, mem.lists["jobs"])
}

func TestPingFailureIsConnectError(t *testing.T) {
	d, _ := core.ParseDescriptor("redis://localhost:6379?key=k", core.RoleSink)
	s, err := NewSink(d, zerolog.Nop())
	require.NoError(t, err)
	mem := newMem()
	mem.pingErr = errors.New("connection refused")
	s.(*Sink).newClient = func(Config) listClient { return mem }
	err = s.Open(context.Background())
	assert.True(t, core.IsKind(err, core.KindConnect), "got %v", err)
}

func TestConfig(t *testing.T) {
	d, _ := core.ParseDescriptor("redis://:pw@cache:6380/2?key=k", core.RoleSink)
	cfg, err := configFrom(d)
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.Addr)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, 2, cfg.DB)

	d, _ = core.ParseDescriptor("redis://cache:6380/x?key=k", core.RoleSink)
	_, err = configFrom(d)
	assert.True(t, core.IsKind(err, core.KindConfiguration))
}
