// Package nats moves records over core NATS subjects.
package nats

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/core"
)

func init() {
	core.RegisterSource(core.SchemeNATS, NewSource)
	core.RegisterSink(core.SchemeNATS, NewSink)
}

func connect(ctx context.Context, cfg Config, log zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) { log.Warn().Err(err).Msg("nats disconnected") }),
		nats.ReconnectHandler(func(nc *nats.Conn) { log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected") }),
		nats.ClosedHandler(func(nc *nats.Conn) { log.Debug().Msg("nats connection closed") }),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.Username != "" || cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if dl, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(timeUntil(dl)))
	}
	return nats.Connect(strings.Join(cfg.Servers, ","), opts...)
}

// flushTimeout bounds a flush whose context carries no deadline.
const flushTimeout = 5 * time.Second

func flush(ctx context.Context, nc *nats.Conn) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return nc.FlushWithContext(ctx)
}
