package nats

import (
	"context"
	"regexp"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/core"
)

// KeyHeader carries the record key across NATS hops.
const KeyHeader = "Fluxmux-Key"

var subjectVar = regexp.MustCompile(`\$\{([^}]+)\}`)

// Sink publishes one message per record. The subject may reference
// payload fields as ${path}, e.g. orders.${region}.
type Sink struct {
	name  string
	cfg   Config
	codec codec.Codec
	log   zerolog.Logger

	nc *nats.Conn
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
	return &Sink{name: d.Raw, cfg: cfg, codec: c, log: log.With().Str("subject", cfg.Subject).Logger()}, nil
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) Open(ctx context.Context) error {
	nc, err := connect(ctx, s.cfg, s.log)
	if err != nil {
		return core.ConnectError(s.name, err)
	}
	s.nc = nc
	return nil
}

func (s *Sink) Write(ctx context.Context, b core.Batch) error {
	for _, rec := range b {
		data, err := s.codec.Marshal(rec)
		if err != nil {
			return core.WriteError(s.name, err)
		}
		msg := &nats.Msg{Subject: s.subject(data), Data: data}
		if len(rec.Meta.Key) > 0 {
			msg.Header = nats.Header{}
			msg.Header.Set(KeyHeader, string(rec.Meta.Key))
		}
		if err := s.nc.PublishMsg(msg); err != nil {
			return core.WriteError(s.name, err)
		}
	}
	return nil
}

func (s *Sink) subject(data []byte) string {
	if !subjectVar.MatchString(s.cfg.Subject) {
		return s.cfg.Subject
	}
	return subjectVar.ReplaceAllStringFunc(s.cfg.Subject, func(m string) string {
		path := subjectVar.FindStringSubmatch(m)[1]
		if v := gjson.GetBytes(data, path); v.Exists() {
			return v.String()
		}
		return "_"
	})
}

// Flush waits for the server to acknowledge everything published so far.
func (s *Sink) Flush(ctx context.Context) error {
	if err := flush(ctx, s.nc); err != nil {
		return core.WriteError(s.name, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.nc == nil {
		return nil
	}
	err := s.nc.Drain()
	s.nc = nil
	return err
}
