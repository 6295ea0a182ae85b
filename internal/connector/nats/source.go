package nats

import (
	"context"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/core"
)

// Source subscribes to a subject (optionally in a queue group). Core NATS
// has no replay, so only messages published after Open are seen.
type Source struct {
	name  string
	cfg   Config
	codec codec.Codec
	log   zerolog.Logger

	nc  *nats.Conn
	sub *nats.Subscription
	ch  chan *nats.Msg
	seq uint64
}

func NewSource(d core.Descriptor, log zerolog.Logger) (core.Source, error) {
	cfg, err := configFrom(d)
	if err != nil {
		return nil, err
	}
	c, err := codec.ForName(cfg.Format)
	if err != nil {
		return nil, core.ConfigError("source "+d.Raw, "%v", err)
	}
	return &Source{name: d.Raw, cfg: cfg, codec: c, log: log.With().Str("subject", cfg.Subject).Logger()}, nil
}

func (s *Source) Name() string { return s.name }

func (s *Source) Open(ctx context.Context) error {
	nc, err := connect(ctx, s.cfg, s.log)
	if err != nil {
		return core.ConnectError(s.name, err)
	}
	s.nc = nc
	s.ch = make(chan *nats.Msg, 1024)
	if s.cfg.Queue != "" {
		s.sub, err = nc.ChanQueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.ch)
	} else {
		s.sub, err = nc.ChanSubscribe(s.cfg.Subject, s.ch)
	}
	if err == nil {
		err = flush(ctx, nc)
	}
	if err != nil {
		nc.Close()
		return core.ConnectError(s.name, err)
	}
	s.log.Info().Str("queue", s.cfg.Queue).Msg("nats source subscribed")
	return nil
}

func (s *Source) Next(ctx context.Context) (core.Record, error) {
	var idle <-chan time.Time
	if s.cfg.Idle > 0 {
		t := time.NewTimer(s.cfg.Idle)
		defer t.Stop()
		idle = t.C
	}
	select {
	case <-ctx.Done():
		return core.Record{}, ctx.Err()
	case <-idle:
		return core.Record{}, io.EOF
	case m := <-s.ch:
		rec, err := s.codec.Unmarshal(m.Data)
		if err != nil {
			return core.Record{}, core.ParseError(s.name, err)
		}
		s.seq++
		rec.Meta.Seq = s.seq
		rec.Meta.IngestedAt = time.Now()
		if m.Header != nil {
			if k := m.Header.Get(KeyHeader); k != "" {
				rec.Meta.Key = []byte(k)
			}
		}
		return rec, nil
	}
}

func (s *Source) Close() error {
	if s.nc == nil {
		return nil
	}
	var err error
	if s.sub != nil {
		err = s.sub.Unsubscribe()
	}
	s.nc.Close()
	s.nc = nil
	return err
}

func timeUntil(t time.Time) time.Duration {
	if d := time.Until(t); d > 0 {
		return d
	}
	return time.Millisecond
}
