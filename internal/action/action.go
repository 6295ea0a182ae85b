// Package action implements the in-flight stream operators applied to
// records before fan-out. Unlike middleware, actions run in the order the
// caller lists them.
package action

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/config"
	"github.com/cuongceg/fluxmux/internal/core"
)

// Action transforms one record into zero or more records. Process may
// return io.EOF together with its final records to end the stream early.
// Finish is called once at end of stream and returns anything buffered.
type Action interface {
	Name() string
	Process(ctx context.Context, rec core.Record) ([]core.Record, error)
	Finish(ctx context.Context) ([]core.Record, error)
}

// stopper is implemented by actions that can end the stream on their own.
type stopper interface {
	Done() bool
}

// stateless provides a no-op Finish.
type stateless struct{}

func (stateless) Finish(context.Context) ([]core.Record, error) { return nil, nil }

type stage struct {
	Action
	// counts marks actions whose empty output is a dropped record.
	counts bool
	log    zerolog.Logger
}

// Chain runs records through the configured actions in order.
type Chain struct {
	stages  []stage
	policy  config.Policy
	dropped int64
	log     zerolog.Logger
}

// Build constructs the chain. A malformed parameter is a configuration
// error reported before any record is read.
func Build(specs []config.ActionSpec, pol config.Policy, seed int64, log zerolog.Logger) (*Chain, error) {
	c := &Chain{policy: pol, log: log}
	for i, spec := range specs {
		slog := log.With().Str("action", string(spec.Type)).Int("index", i).Logger()
		a, err := build(spec, pol, seed, slog)
		if err != nil {
			return nil, err
		}
		counts := true
		switch spec.Type {
		case config.ActionAggregate, config.ActionLimit:
			counts = false
		}
		c.stages = append(c.stages, stage{a, counts, slog})
	}
	return c, nil
}

func build(spec config.ActionSpec, pol config.Policy, seed int64, log zerolog.Logger) (Action, error) {
	op := "action " + string(spec.Type)
	switch spec.Type {
	case config.ActionFilter:
		return NewFilter(spec.Param)
	case config.ActionTransform:
		return NewTransform(spec.Param, pol.OnEvalError, log)
	case config.ActionAggregate:
		return NewAggregate(spec.Param)
	case config.ActionNormalize:
		return NewNormalize(spec.Param)
	case config.ActionValidate:
		return NewValidate(spec.Param)
	case config.ActionLimit:
		n, err := strconv.Atoi(spec.Param)
		if err != nil || n < 0 {
			return nil, core.ConfigError(op, "limit must be a non-negative integer, got %q", spec.Param)
		}
		return NewLimit(n), nil
	case config.ActionSample:
		return NewSample(spec.Param, seed)
	}
	return nil, core.ConfigError(op, "unknown action type")
}

// Len reports the number of actions.
func (c *Chain) Len() int { return len(c.stages) }

// Dropped counts records removed by actions, including records skipped
// under the drop and skip policies.
func (c *Chain) Dropped() int64 { return c.dropped }

// Done reports whether an action has ended the stream, so the source need
// not be read again.
func (c *Chain) Done() bool {
	for _, s := range c.stages {
		if st, ok := s.Action.(stopper); ok && st.Done() {
			return true
		}
	}
	return false
}

// Process pushes rec through every action. It returns io.EOF, along with
// any surviving records, once an action has ended the stream.
func (c *Chain) Process(ctx context.Context, rec core.Record) ([]core.Record, error) {
	return c.run(ctx, 0, rec)
}

// Finish flushes buffered records stage by stage; what stage i releases
// still passes through stages i+1 and later.
func (c *Chain) Finish(ctx context.Context) ([]core.Record, error) {
	var out []core.Record
	for i, s := range c.stages {
		tail, err := s.Finish(ctx)
		if err != nil {
			return out, err
		}
		for _, rec := range tail {
			recs, err := c.run(ctx, i+1, rec)
			out = append(out, recs...)
			if err != nil && !errors.Is(err, io.EOF) {
				return out, err
			}
		}
	}
	return out, nil
}

func (c *Chain) run(ctx context.Context, from int, rec core.Record) ([]core.Record, error) {
	batch := []core.Record{rec}
	eof := false
	for _, s := range c.stages[from:] {
		var next []core.Record
		for _, r := range batch {
			out, err := s.Process(ctx, r)
			switch {
			case err == nil:
			case errors.Is(err, io.EOF):
				eof = true
			default:
				if herr := c.handle(s, r, err); herr != nil {
					return nil, herr
				}
				out = nil
			}
			if len(out) == 0 && s.counts {
				c.dropped++
			}
			next = append(next, out...)
		}
		batch = next
		if len(batch) == 0 {
			break
		}
	}
	if eof {
		return batch, io.EOF
	}
	return batch, nil
}

// handle applies the configured policy to a per-record failure. A nil
// return means the record is dropped and the run continues.
func (c *Chain) handle(s stage, rec core.Record, err error) error {
	switch {
	case core.IsKind(err, core.KindEvaluation):
		if c.policy.OnEvalError == config.EvalHalt {
			return err
		}
	case core.IsKind(err, core.KindValidation):
		if c.policy.OnInvalid == config.InvalidHalt {
			return err
		}
	default:
		return err
	}
	s.log.Warn().Err(err).Uint64("seq", rec.Meta.Seq).Msg("record skipped")
	return nil
}
