package kafka

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"
	"github.com/tidwall/gjson"

	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/core"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink produces one message per record. Messages with the same key land
// on the same partition.
type Sink struct {
	name  string
	cfg   Config
	codec codec.Codec
	log   zerolog.Logger

	dial      func(ctx context.Context, brokers []string) error
	newWriter func(cfg Config) messageWriter

	w messageWriter
}

func NewSink(d core.Descriptor, log zerolog.Logger) (core.Sink, error) {
	cfg, err := configFrom(d)
	if err != nil {
		return nil, err
	}
	c, err := codec.ForName(cfg.Format)
	if err != nil {
		return nil, core.ConfigError("sink "+d.Raw, "%v", err)
	}
	return &Sink{
		name:      d.Raw,
		cfg:       cfg,
		codec:     c,
		log:       log.With().Str("topic", cfg.Topic).Logger(),
		dial:      dialAny,
		newWriter: newHashWriter,
	}, nil
}

func newHashWriter(cfg Config) messageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		BatchBytes:             128 << 10,
	}
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) Open(ctx context.Context) error {
	if err := s.dial(ctx, s.cfg.Brokers); err != nil {
		return core.ConnectError(s.name, err)
	}
	s.w = s.newWriter(s.cfg)
	return nil
}

func (s *Sink) Write(ctx context.Context, b core.Batch) error {
	msgs := make([]kafka.Message, 0, len(b))
	for _, rec := range b {
		val, err := s.codec.Marshal(rec)
		if err != nil {
			return core.WriteError(s.name, err)
		}
		msgs = append(msgs, kafka.Message{Key: s.key(rec, val), Value: val})
	}
	if err := s.w.WriteMessages(ctx, msgs...); err != nil {
		return core.WriteError(s.name, err)
	}
	return nil
}

// key picks the message key: the key= path when configured, otherwise the
// key the record arrived with.
func (s *Sink) key(rec core.Record, val []byte) []byte {
	if s.cfg.KeyFrom == "" {
		return rec.Meta.Key
	}
	if v, ok := rec.Get(s.cfg.KeyFrom); ok {
		return []byte(v.Text())
	}
	if res := gjson.GetBytes(val, s.cfg.KeyFrom); res.Exists() {
		return []byte(res.String())
	}
	return nil
}

// Flush is a no-op: WriteMessages returns only after the batch is acked.
func (s *Sink) Flush(ctx context.Context) error { return nil }

func (s *Sink) Close() error {
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
