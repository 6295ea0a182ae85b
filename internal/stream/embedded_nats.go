// Package stream runs an in-process NATS server, used for local runs of
// nats:// pipelines and by tests.
package stream

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type EmbeddedOptions struct {
	Name string
	// BindAddress is host:port; port 0 or -1 picks a free port.
	BindAddress string
	JetStream   bool
	// StoreDir holds JetStream data; a temp dir is used when empty.
	StoreDir string
}

type EmbeddedNats struct {
	Server *server.Server
	Client *nats.Conn

	log      zerolog.Logger
	tmpStore string
}

func StartEmbeddedServer(o EmbeddedOptions, log zerolog.Logger) (*EmbeddedNats, error) {
	if o.BindAddress == "" {
		o.BindAddress = "127.0.0.1:-1"
	}
	host, port, err := parseHostAndPort(o.BindAddress)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		port = server.RANDOM_PORT
	}

	e := &EmbeddedNats{log: log.With().Str("from", "nats").Logger()}
	opts := &server.Options{
		Host:       host,
		Port:       port,
		ServerName: o.Name,
		NoSigs:     true,
		NoLog:      false,
		JetStream:  o.JetStream,
	}
	if o.JetStream {
		if o.StoreDir == "" {
			dir, err := os.MkdirTemp("", "fluxmux-nats-")
			if err != nil {
				return nil, err
			}
			o.StoreDir, e.tmpStore = dir, dir
		}
		opts.StoreDir = o.StoreDir
		opts.JetStreamMaxMemory = -1
		opts.JetStreamMaxStore = -1
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		e.cleanup()
		return nil, err
	}
	ns.SetLogger(&natsLogger{e.log}, opts.Debug, opts.Trace)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		e.cleanup()
		return nil, errors.New("nats server timed out")
	}
	e.Server = ns

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Name("fluxmux-embedded"),
		nats.MaxReconnects(20),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			e.log.Debug().Err(err).Msg("disconnected")
		}),
	)
	if err != nil {
		e.Shutdown()
		return nil, err
	}
	e.Client = nc
	e.log.Info().Str("url", ns.ClientURL()).Bool("jetstream", o.JetStream).Msg("embedded nats started")
	return e, nil
}

// URL is the nats:// address clients should dial.
func (e *EmbeddedNats) URL() string { return e.Server.ClientURL() }

// Addr is host:port of the client listener, ready for a descriptor.
func (e *EmbeddedNats) Addr() string {
	if a, ok := e.Server.Addr().(*net.TCPAddr); ok {
		return a.String()
	}
	return ""
}

func (e *EmbeddedNats) Shutdown() {
	if e.Client != nil {
		e.Client.Close()
	}
	if e.Server != nil {
		e.Server.Shutdown()
		e.Server.WaitForShutdown()
	}
	e.cleanup()
}

func (e *EmbeddedNats) cleanup() {
	if e.tmpStore != "" {
		_ = os.RemoveAll(e.tmpStore)
	}
}

func parseHostAndPort(adr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(adr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

// natsLogger routes server logs through zerolog.
type natsLogger struct {
	log zerolog.Logger
}

func (l *natsLogger) Noticef(format string, v ...any) { l.log.Info().Msgf(format, v...) }
func (l *natsLogger) Warnf(format string, v ...any)   { l.log.Warn().Msgf(format, v...) }
func (l *natsLogger) Fatalf(format string, v ...any)  { l.log.Error().Msgf(format, v...) }
func (l *natsLogger) Errorf(format string, v ...any)  { l.log.Error().Msgf(format, v...) }
func (l *natsLogger) Debugf(format string, v ...any)  { l.log.Debug().Msgf(format, v...) }
func (l *natsLogger) Tracef(format string, v ...any)  { l.log.Trace().Msgf(format, v...) }
