package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongceg/fluxmux/internal/core"
)

func drain(t *testing.T, src core.Source) []core.Record {
	t.Helper()
	var out []core.Record
	for {
		rec, err := src.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestFileSinkThenSource(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "out.yaml")

	d, err := core.ParseDescriptor("file:"+path, core.RoleSink)
	require.NoError(t, err)
	sink, err := core.BuildSink(d, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, sink.Open(ctx))
	require.NoError(t, sink.Write(ctx, core.Batch{
		core.RecordOf("name", "Ann", "age", 31),
		core.RecordOf("name", "Bob", "age", 24),
	}))
	require.NoError(t, sink.Flush(ctx))
	require.NoError(t, sink.Close())

	d, err = core.ParseDescriptor("file:"+path, core.RoleSource)
	require.NoError(t, err)
	src, err := core.BuildSource(d, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, src.Open(ctx))
	defer src.Close()

	recs := drain(t, src)
	require.Len(t, recs, 2)
	assert.True(t, recs[1].Equal(core.RecordOf("name", "Bob", "age", 24)))
	assert.Equal(t, uint64(2), recs[1].Meta.Seq)
}

func TestFileSourceMissingIsConnectError(t *testing.T) {
	d, err := core.ParseDescriptor("file:"+filepath.Join(t.TempDir(), "nope.json"), core.RoleSource)
	require.NoError(t, err)
	src, err := NewSource(d, zerolog.Nop())
	require.NoError(t, err)
	err = src.Open(context.Background())
	assert.True(t, core.IsKind(err, core.KindConnect), "got %v", err)
}

func TestFileSourceMalformedIsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n{oops\n"), 0o600))
	d, _ := core.ParseDescriptor("file:"+path, core.RoleSource)
	src, err := NewSource(d, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, src.Open(context.Background()))
	defer src.Close()

	_, err = src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.True(t, core.IsKind(err, core.KindParse), "got %v", err)
}

func TestFileUnknownFormat(t *testing.T) {
	d, err := core.ParseDescriptor("file:data.xml", core.RoleSource)
	require.NoError(t, err)
	_, err = NewSource(d, zerolog.Nop())
	assert.True(t, core.IsKind(err, core.KindConfiguration), "got %v", err)
}

func TestSourceStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n"), 0o600))
	d, _ := core.ParseDescriptor("file:"+path, core.RoleSource)
	src, _ := NewSource(d, zerolog.Nop())
	require.NoError(t, src.Open(context.Background()))
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
