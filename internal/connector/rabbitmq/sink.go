package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/core"
)

// KeyHeader carries the record key across hops.
const KeyHeader = "fluxmux-key"

type publishFunc func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

// Sink publishes each record as mandatory and waits for the broker
// confirm before the next one, so a confirm or return always belongs to
// the message just sent.
type Sink struct {
	name  string
	cfg   Config
	codec codec.Codec
	log   zerolog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel

	mu       sync.Mutex
	publish  publishFunc
	confirms <-chan amqp.Confirmation
	returns  <-chan amqp.Return
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
		name:  d.Raw,
		cfg:   cfg,
		codec: c,
		log:   log.With().Str("exchange", cfg.Exchange).Str("routing_key", cfg.RoutingKey).Logger(),
	}, nil
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) Open(ctx context.Context) error {
	conn, ch, err := dial(s.cfg.URL)
	if err != nil {
		return core.ConnectError(s.name, err)
	}
	s.conn, s.ch = conn, ch
	if err := ch.Confirm(false); err != nil {
		return core.ConnectError(s.name, fmt.Errorf("enable confirms: %w", err))
	}
	s.returns = ch.NotifyReturn(make(chan amqp.Return, 1))
	s.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	s.publish = ch.PublishWithContext
	return nil
}

func (s *Sink) Write(ctx context.Context, b core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range b {
		body, err := s.codec.Marshal(rec)
		if err != nil {
			return core.WriteError(s.name, err)
		}
		if err := s.publishOne(ctx, rec, body); err != nil {
			return core.WriteError(s.name, err)
		}
	}
	return nil
}

func (s *Sink) publishOne(ctx context.Context, rec core.Record, body []byte) error {
	if _, has := ctx.Deadline(); !has && s.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PublishTimeout)
		defer cancel()
	}

	pub := amqp.Publishing{
		ContentType:  contentType(s.codec.Name()),
		Body:         body,
		DeliveryMode: amqp.Transient,
	}
	if s.cfg.Persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	if len(rec.Meta.Key) > 0 {
		pub.Headers = amqp.Table{KeyHeader: string(rec.Meta.Key)}
	}

	if err := s.publish(ctx, s.cfg.Exchange, s.cfg.RoutingKey, true, false, pub); err != nil {
		return err
	}
	select {
	case ret := <-s.returns:
		return fmt.Errorf("unroutable: exchange=%s rk=%s reply=%d %s", ret.Exchange, ret.RoutingKey, ret.ReplyCode, ret.ReplyText)
	case conf := <-s.confirms:
		if !conf.Ack {
			return fmt.Errorf("broker nacked: exchange=%s rk=%s", s.cfg.Exchange, s.cfg.RoutingKey)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func contentType(format string) string {
	switch format {
	case "json", "ndjson":
		return "application/json"
	case "yaml":
		return "application/yaml"
	case "toml":
		return "application/toml"
	case "csv":
		return "text/csv"
	case "protobuf":
		return "application/x-protobuf"
	}
	return "application/octet-stream"
}

// Flush is a no-op: Write returns after every message is confirmed.
func (s *Sink) Flush(ctx context.Context) error { return nil }

func (s *Sink) Close() error {
	err := closeAll(s.ch, s.conn)
	s.ch, s.conn = nil, nil
	return err
}
