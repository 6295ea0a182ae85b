package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/core"
)

// Source consumes a queue. A delivery is acked once it decodes; one that
// does not is rejected without requeue.
type Source struct {
	name  string
	cfg   Config
	codec codec.Codec
	log   zerolog.Logger

	conn       *amqp.Connection
	ch         *amqp.Channel
	tag        string
	deliveries <-chan amqp.Delivery
	seq        uint64
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
		name:  d.Raw,
		cfg:   cfg,
		codec: c,
		log:   log.With().Str("queue", cfg.Queue).Logger(),
		tag:   fmt.Sprintf("fluxmux-%d", time.Now().UnixNano()),
	}, nil
}

func (s *Source) Name() string { return s.name }

func (s *Source) Open(ctx context.Context) error {
	conn, ch, err := dial(s.cfg.URL)
	if err != nil {
		return core.ConnectError(s.name, err)
	}
	s.conn, s.ch = conn, ch
	if s.cfg.Prefetch > 0 {
		if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
			return core.ConnectError(s.name, fmt.Errorf("set QoS: %w", err))
		}
	}
	deliveries, err := ch.Consume(s.cfg.Queue, s.tag, false, false, false, false, nil)
	if err != nil {
		return core.ConnectError(s.name, fmt.Errorf("consume: %w", err))
	}
	s.deliveries = deliveries
	s.log.Info().Int("prefetch", s.cfg.Prefetch).Msg("rabbitmq source consuming")
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
	case d, ok := <-s.deliveries:
		if !ok {
			return core.Record{}, io.EOF
		}
		return s.decode(d)
	}
}

func (s *Source) decode(d amqp.Delivery) (core.Record, error) {
	rec, err := s.codec.Unmarshal(d.Body)
	if err != nil {
		_ = d.Nack(false, false)
		return core.Record{}, core.ParseError(s.name, err)
	}
	if err := d.Ack(false); err != nil {
		s.log.Warn().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("ack failed")
	}
	s.seq++
	rec.Meta.Seq = s.seq
	rec.Meta.IngestedAt = time.Now()
	if k, ok := d.Headers[KeyHeader].(string); ok {
		rec.Meta.Key = []byte(k)
	}
	return rec, nil
}

func (s *Source) Close() error {
	if s.ch != nil {
		_ = s.ch.Cancel(s.tag, false)
	}
	err := closeAll(s.ch, s.conn)
	s.ch, s.conn = nil, nil
	return err
}
