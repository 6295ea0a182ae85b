// Package middleware wraps a sink with the reliability stages of one sink
// path. Stages always compose in the same order, outermost first:
//
//	schema -> dedup -> batch -> throttle -> retry -> connector
//
// A connector with a fixed record shape adds its own check right after
// the schema stage.
//
// Schema and dedup see single records, batching decides what a write is,
// throttle paces writes and retry repeats a failed write as one unit.
package middleware

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/config"
	"github.com/cuongceg/fluxmux/internal/core"
)

// Build wraps sink with every stage mw enables. The returned sink counts
// attempts and deliveries into st.
func Build(sink core.Sink, mw config.Middleware, pol config.Policy, st *core.SinkState, log zerolog.Logger) (core.Sink, error) {
	var out core.Sink = &counting{passthrough{sink}, st}
	out = NewRetry(out, mw.RetryMaxAttempts, mw.RetryDelay, st, log)
	if mw.ThrottlePerSec > 0 {
		out = NewThrottle(out, mw.ThrottlePerSec)
	}
	if mw.BatchSize > 0 {
		out = NewBatch(out, mw.BatchSize, mw.BatchTimeout, st)
	}
	if mw.Deduplicate {
		out = NewDedup(out, st)
	}
	if c, ok := core.CheckerOf(sink); ok {
		out = NewShapeCheck(out, c, pol.OnInvalid, st, log)
	}
	if mw.SchemaPath != "" {
		schema, err := LoadSchema(mw.SchemaPath)
		if err != nil {
			return nil, err
		}
		out = NewSchemaCheck(out, schema, pol.OnInvalid, st, log)
	}
	return out, nil
}

// passthrough forwards everything but Write; stages embed it.
type passthrough struct {
	next core.Sink
}

func (p passthrough) Name() string                    { return p.next.Name() }
func (p passthrough) Open(ctx context.Context) error  { return p.next.Open(ctx) }
func (p passthrough) Flush(ctx context.Context) error { return p.next.Flush(ctx) }
func (p passthrough) Close() error                    { return p.next.Close() }

func (p passthrough) Write(ctx context.Context, b core.Batch) error { return p.next.Write(ctx, b) }

// counting sits right above the connector.
type counting struct {
	passthrough
	st *core.SinkState
}

func (c *counting) Write(ctx context.Context, b core.Batch) error {
	c.st.Attempts.Add(1)
	if err := c.next.Write(ctx, b); err != nil {
		return err
	}
	c.st.Delivered.Add(int64(len(b)))
	return nil
}
