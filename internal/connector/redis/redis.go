// Package redis stores records in a Redis list, one encoded record per
// element.
package redis

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/core"
)

func init() {
	core.RegisterSource(core.SchemeRedis, NewSource)
	core.RegisterSink(core.SchemeRedis, NewSink)
}

const pageSize = 256

type listClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// Pop consumes the list with BLPOP instead of reading a snapshot.
	Pop    bool
	Idle   time.Duration
	Format string
}

func configFrom(d core.Descriptor) (Config, error) {
	op := d.Role.String() + " " + d.Raw
	cfg := Config{Addr: "localhost:6379", Key: d.Param("key"), Format: d.Format(), Idle: time.Second}
	if len(d.Hosts) > 0 {
		cfg.Addr = d.Hosts[0]
	}
	if d.User != nil {
		if pw, ok := d.User.Password(); ok {
			cfg.Password = pw
		}
	}
	if p := strings.Trim(d.Path, "/"); p != "" {
		db, err := strconv.Atoi(p)
		if err != nil {
			return Config{}, core.ConfigError(op, "invalid database %q", p)
		}
		cfg.DB = db
	}
	cfg.Pop = d.Param("pop") == "true"
	if raw := d.Param("idle"); raw != "" {
		idle, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, core.ConfigError(op, "invalid idle %q: %v", raw, err)
		}
		cfg.Idle = idle
	}
	return cfg, nil
}

func newClient(cfg Config) listClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

type base struct {
	name      string
	cfg       Config
	codec     codec.Codec
	log       zerolog.Logger
	newClient func(Config) listClient
	client    listClient
}

func newBase(d core.Descriptor, log zerolog.Logger) (base, error) {
	cfg, err := configFrom(d)
	if err != nil {
		return base{}, err
	}
	c, err := codec.ForName(cfg.Format)
	if err != nil {
		return base{}, core.ConfigError(d.Role.String()+" "+d.Raw, "%v", err)
	}
	return base{
		name:      d.Raw,
		cfg:       cfg,
		codec:     c,
		log:       log.With().Str("key", cfg.Key).Logger(),
		newClient: newClient,
	}, nil
}

func (b *base) Name() string { return b.name }

func (b *base) Open(ctx context.Context) error {
	b.client = b.newClient(b.cfg)
	if err := b.client.Ping(ctx).Err(); err != nil {
		_ = b.client.Close()
		b.client = nil
		return core.ConnectError(b.name, err)
	}
	return nil
}

func (b *base) Close() error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// Source reads the list front to back. In pop mode elements are removed
// as they are read and the stream ends after Idle without new elements.
type Source struct {
	base
	buf  []string
	next int64
	done bool
	seq  uint64
}

func NewSource(d core.Descriptor, log zerolog.Logger) (core.Source, error) {
	b, err := newBase(d, log)
	if err != nil {
		return nil, err
	}
	return &Source{base: b}, nil
}

func (s *Source) Next(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return core.Record{}, err
	}
	raw, err := s.fetch(ctx)
	if err != nil {
		return core.Record{}, err
	}
	rec, err := s.codec.Unmarshal([]byte(raw))
	if err != nil {
		return core.Record{}, core.ParseError(s.name, err)
	}
	s.seq++
	rec.Meta.Seq = s.seq
	rec.Meta.IngestedAt = time.Now()
	return rec, nil
}

func (s *Source) fetch(ctx context.Context) (string, error) {
	if s.cfg.Pop {
		res, err := s.client.BLPop(ctx, s.cfg.Idle, s.cfg.Key).Result()
		if errors.Is(err, redis.Nil) {
			return "", io.EOF
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", core.ConnectError(s.name, err)
		}
		return res[1], nil
	}
	if len(s.buf) == 0 {
		if s.done {
			return "", io.EOF
		}
		page, err := s.client.LRange(ctx, s.cfg.Key, s.next, s.next+pageSize-1).Result()
		if err != nil {
			return "", core.ConnectError(s.name, err)
		}
		s.next += int64(len(page))
		s.done = len(page) < pageSize
		s.buf = page
		if len(s.buf) == 0 {
			return "", io.EOF
		}
	}
	raw := s.buf[0]
	s.buf = s.buf[1:]
	return raw, nil
}

// Sink appends each batch with a single RPUSH.
type Sink struct {
	base
}

func NewSink(d core.Descriptor, log zerolog.Logger) (core.Sink, error) {
	b, err := newBase(d, log)
	if err != nil {
		return nil, err
	}
	return &Sink{base: b}, nil
}

func (s *Sink) Write(ctx context.Context, b core.Batch) error {
	if len(b) == 0 {
		return nil
	}
	vals := make([]any, 0, len(b))
	for _, rec := range b {
		v, err := s.codec.Marshal(rec)
		if err != nil {
			return core.WriteError(s.name, err)
		}
		vals = append(vals, v)
	}
	if err := s.client.RPush(ctx, s.cfg.Key, vals...).Err(); err != nil {
		return core.WriteError(s.name, err)
	}
	return nil
}

func (s *Sink) Flush(ctx context.Context) error { return nil }
