package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/core"
)

func init() {
	core.RegisterSource(core.SchemeKafka, NewSource)
	core.RegisterSink(core.SchemeKafka, NewSink)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Source consumes a topic through a consumer group. Offsets are tracked
// but never committed, so every run starts where the group last stood.
type Source struct {
	name  string
	cfg   Config
	codec codec.Codec
	log   zerolog.Logger

	dial      func(ctx context.Context, brokers []string) error
	newReader func(cfg Config) messageReader

	r   messageReader
	seq uint64

	mu      sync.Mutex
	offsets map[int32]int64
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
	return &Source{
		name:      d.Raw,
		cfg:       cfg,
		codec:     c,
		log:       log.With().Str("topic", cfg.Topic).Str("group", cfg.GroupID).Logger(),
		dial:      dialAny,
		newReader: newGroupReader,
		offsets:   map[int32]int64{},
	}, nil
}

func newGroupReader(cfg Config) messageReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
		Dialer: &kafka.Dialer{
			Timeout:  10 * time.Second,
			ClientID: cfg.ClientID,
		},
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        250 * time.Millisecond,
		QueueCapacity:  1000,
		CommitInterval: 0,
	})
}

// dialAny succeeds once one broker accepts a connection.
func dialAny(ctx context.Context, brokers []string) error {
	var last error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn.Close()
		}
		last = err
	}
	return last
}

func (s *Source) Name() string { return s.name }

func (s *Source) Open(ctx context.Context) error {
	if err := s.dial(ctx, s.cfg.Brokers); err != nil {
		return core.ConnectError(s.name, err)
	}
	s.r = s.newReader(s.cfg)
	s.log.Info().Strs("brokers", s.cfg.Brokers).Msg("kafka source opened")
	return nil
}

func (s *Source) Next(ctx context.Context) (core.Record, error) {
	fctx := ctx
	if s.cfg.Idle > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, s.cfg.Idle)
		defer cancel()
	}
	m, err := s.r.FetchMessage(fctx)
	if err != nil {
		if ctx.Err() != nil {
			return core.Record{}, ctx.Err()
		}
		if s.cfg.Idle > 0 && errors.Is(err, context.DeadlineExceeded) {
			s.log.Debug().Dur("idle", s.cfg.Idle).Msg("no messages, ending stream")
			return core.Record{}, io.EOF
		}
		return core.Record{}, core.ConnectError(s.name, err)
	}

	s.mu.Lock()
	s.offsets[int32(m.Partition)] = m.Offset + 1
	s.mu.Unlock()

	rec, err := s.codec.Unmarshal(m.Value)
	if err != nil {
		return core.Record{}, core.ParseError(s.name, err)
	}
	s.seq++
	rec.Meta = core.Meta{
		Seq:        s.seq,
		Partition:  int32(m.Partition),
		Offset:     m.Offset,
		HasOffset:  true,
		Key:        m.Key,
		IngestedAt: time.Now(),
	}
	return rec, nil
}

// Offsets implements core.OffsetTracker.
func (s *Source) Offsets() map[int32]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]int64, len(s.offsets))
	for p, o := range s.offsets {
		out[p] = o
	}
	return out
}

func (s *Source) Close() error {
	if s.r == nil {
		return nil
	}
	err := s.r.Close()
	s.r = nil
	s.log.Info().Msg("kafka source closed")
	return err
}
