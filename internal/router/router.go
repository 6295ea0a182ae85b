// Package router drives a pipeline run: one source, the action chain, and
// a tee over one or more middleware-wrapped sinks.
package router

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/config"
	"github.com/cuongceg/fluxmux/internal/core"
	"github.com/cuongceg/fluxmux/internal/util"
)

type Options struct {
	// LogOutput receives the run log in addition to the transcript.
	LogOutput io.Writer
}

// Executor runs one pipeline exactly once.
//
//	Constructed -> Running -> Completed | Failed
type Executor struct {
	cfg   config.Config
	state *core.RunState
	tr    *util.Transcript
	log   zerolog.Logger
}

// New prepares a run of cfg. The config is copied, so the caller may
// reuse or discard it.
func New(cfg *config.Config, opts Options) *Executor {
	c := *cfg
	c.ApplyDefaults()

	tr := &util.Transcript{}
	ws := []io.Writer{tr}
	if opts.LogOutput != nil {
		ws = append(ws, opts.LogOutput)
	}
	id := uuid.NewString()
	log := util.NewLogger(c.App.LogLevel, ws...).With().Str("run", id).Logger()
	return &Executor{cfg: c, state: core.NewRunState(id, log), tr: tr, log: log}
}

func (e *Executor) ID() string { return e.state.ID }

func (e *Executor) Status() core.RunStatus { return e.state.Status() }

// Run executes the pipeline until the source ends, a fatal error occurs
// or ctx is cancelled. A second call fails without doing anything.
func (e *Executor) Run(ctx context.Context) Result {
	return e.runWith(ctx, func() (*assembly, error) {
		if err := config.Validate(&e.cfg); err != nil {
			return nil, core.ConfigError("config", "%w", err)
		}
		return assemble(e.cfg.Pipeline, e.state, e.log)
	})
}

func (e *Executor) runWith(ctx context.Context, build func() (*assembly, error)) Result {
	if e.state.Status() != core.StatusConstructed {
		return Result{RunID: e.state.ID, Status: core.StatusFailed,
			Err: core.ConfigError("run", "run %s already started", e.state.ID)}
	}
	e.state.SetStatus(core.StatusRunning)

	var off map[int32]int64
	a, err := build()
	if err == nil {
		err = e.execute(ctx, a, &off)
	}
	if err != nil {
		e.state.SetStatus(core.StatusFailed)
		e.log.Error().Err(err).Msg("run failed")
	} else {
		e.state.SetStatus(core.StatusCompleted)
	}
	res := e.result(err, off)
	e.log.Info().
		Str("status", res.StatusText()).
		Int64("read", res.RecordsRead).
		Int64("dropped_by_actions", res.ActionDropped).
		Dur("took", res.Duration).
		Msg("run finished")
	res.Transcript = e.tr.String()
	return res
}

// execute opens the assembled handles, pumps the source through the tee
// and closes everything again.
func (e *Executor) execute(ctx context.Context, a *assembly, off *map[int32]int64) error {
	p := e.cfg.Pipeline
	defer func() {
		if cerr := a.close(); cerr != nil {
			e.log.Warn().Err(cerr).Msg("close")
			e.state.AddError(cerr)
		}
		if tr, ok := a.source.(core.OffsetTracker); ok {
			*off = tr.Offsets()
			for part, o := range *off {
				e.log.Info().Int32("partition", part).Int64("next_offset", o).Msg("source position")
			}
		}
	}()

	if err := a.open(ctx); err != nil {
		return err
	}
	e.log.Info().
		Str("source", p.Source).
		Int("actions", a.chain.Len()).
		Int("sinks", len(a.paths)).
		Int("queue", p.QueueSize).
		Msg("pipeline start")

	tee := newTee(ctx, a.paths, p.QueueSize, p, e.state)
	// a halting sink cancels tee.ctx, which also stops a blocked read
	readErr := e.pump(tee.ctx, a, tee)
	teeErr := tee.Close()
	e.state.ActionDropped.Store(a.chain.Dropped())

	switch {
	case teeErr != nil:
		return teeErr
	case readErr != nil:
		return readErr
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return nil
}

// pump is the serial read loop: one outstanding Next at a time, so source
// order is kept through the actions and within every sink path.
func (e *Executor) pump(ctx context.Context, a *assembly, tee *Tee) error {
	send := func(recs []core.Record) error {
		for _, r := range recs {
			if err := tee.Send(r); err != nil {
				return err
			}
		}
		return nil
	}

	for !a.chain.Done() {
		rec, err := a.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		e.state.Read.Add(1)

		out, aerr := a.chain.Process(ctx, rec)
		if err := send(out); err != nil {
			return err
		}
		if errors.Is(aerr, io.EOF) {
			e.log.Debug().Int64("read", e.state.Read.Load()).Msg("stream ended by action")
			break
		}
		if aerr != nil {
			return aerr
		}
	}

	tail, err := a.chain.Finish(ctx)
	if serr := send(tail); serr != nil {
		return serr
	}
	return err
}

func (e *Executor) result(err error, off map[int32]int64) Result {
	res := Result{
		RunID:         e.state.ID,
		Status:        e.state.Status(),
		Err:           err,
		Errors:        e.state.Errors(),
		RecordsRead:   e.state.Read.Load(),
		ActionDropped: e.state.ActionDropped.Load(),
		Offsets:       off,
		Duration:      time.Since(e.state.StartedAt),
	}
	for _, st := range e.state.Sinks() {
		rep := reportOf(st)
		res.Sinks = append(res.Sinks, rep)
		ev := e.log.Info()
		if rep.Err != nil {
			ev = e.log.Warn().Err(rep.Err)
		}
		ev.Str("sink", rep.Name).
			Int64("attempted", rep.Attempted).
			Int64("delivered", rep.Delivered).
			Int64("dropped", rep.Dropped).
			Int64("failed", rep.Failed).
			Int64("writes", rep.Attempts).
			Int64("pending", rep.Pending).
			Msg("sink report")
	}
	return res
}

// Run is New followed by Run.
func Run(ctx context.Context, cfg *config.Config, opts Options) Result {
	return New(cfg, opts).Run(ctx)
}
