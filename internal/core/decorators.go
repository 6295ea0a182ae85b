package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SinkWithLog logs every write and flush of Next.
type SinkWithLog struct {
	Next Sink
	Log  zerolog.Logger
}

func (d SinkWithLog) Name() string                   { return d.Next.Name() }
func (d SinkWithLog) Open(ctx context.Context) error { return d.Next.Open(ctx) }
func (d SinkWithLog) Close() error                   { return d.Next.Close() }
func (d SinkWithLog) Unwrap() Sink                   { return d.Next }

func (d SinkWithLog) Write(ctx context.Context, b Batch) error {
	t0 := time.Now()
	err := d.Next.Write(ctx, b)
	ev := d.Log.Debug()
	if err != nil {
		ev = d.Log.Warn().Err(err)
	}
	ev.Int("records", len(b)).Dur("took", time.Since(t0)).Msg("write")
	return err
}

func (d SinkWithLog) Flush(ctx context.Context) error {
	err := d.Next.Flush(ctx)
	if err != nil {
		d.Log.Warn().Err(err).Msg("flush")
	}
	return err
}
