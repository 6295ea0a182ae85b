// Package file connects pipelines to local files. The same codec-backed
// source and sink also serve the stdio connector.
package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/core"
)

func init() {
	core.RegisterSource(core.SchemeFile, NewSource)
	core.RegisterSink(core.SchemeFile, NewSink)
}

func codecFor(d core.Descriptor) (codec.Codec, error) {
	c, err := codec.ForName(d.Format())
	if err != nil {
		return nil, core.ConfigError(d.Role.String()+" "+d.Raw, "%v", err)
	}
	return c, nil
}

func NewSource(d core.Descriptor, log zerolog.Logger) (core.Source, error) {
	c, err := codecFor(d)
	if err != nil {
		return nil, err
	}
	path := d.Path
	return NewReaderSource(d.Raw, c, func() (io.ReadCloser, error) { return os.Open(path) }, log), nil
}

func NewSink(d core.Descriptor, log zerolog.Logger) (core.Sink, error) {
	c, err := codecFor(d)
	if err != nil {
		return nil, err
	}
	path := d.Path
	return NewWriterSink(d.Raw, c, func() (io.WriteCloser, error) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return os.Create(path)
	}, log), nil
}

// ReaderSource decodes records from whatever open returns.
type ReaderSource struct {
	name  string
	codec codec.Codec
	open  func() (io.ReadCloser, error)
	log   zerolog.Logger

	rc  io.ReadCloser
	dec codec.Decoder
	seq uint64
}

func NewReaderSource(name string, c codec.Codec, open func() (io.ReadCloser, error), log zerolog.Logger) *ReaderSource {
	return &ReaderSource{name: name, codec: c, open: open, log: log}
}

func (s *ReaderSource) Name() string { return s.name }

func (s *ReaderSource) Open(ctx context.Context) error {
	rc, err := s.open()
	if err != nil {
		return core.ConnectError(s.name, err)
	}
	s.rc = rc
	s.dec = s.codec.NewDecoder(rc)
	s.log.Debug().Str("format", s.codec.Name()).Msg("source opened")
	return nil
}

func (s *ReaderSource) Next(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return core.Record{}, err
	}
	rec, err := s.dec.Decode()
	if err == io.EOF {
		return core.Record{}, io.EOF
	}
	if err != nil {
		return core.Record{}, core.ParseError(s.name, err)
	}
	s.seq++
	rec.Meta.Seq = s.seq
	rec.Meta.IngestedAt = time.Now()
	return rec, nil
}

func (s *ReaderSource) Close() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}

// WriterSink encodes records into whatever open returns. Array formats
// are written when the sink is closed.
type WriterSink struct {
	name  string
	codec codec.Codec
	open  func() (io.WriteCloser, error)
	log   zerolog.Logger

	wc  io.WriteCloser
	enc codec.Encoder
}

func NewWriterSink(name string, c codec.Codec, open func() (io.WriteCloser, error), log zerolog.Logger) *WriterSink {
	return &WriterSink{name: name, codec: c, open: open, log: log}
}

func (s *WriterSink) Name() string { return s.name }

func (s *WriterSink) Open(ctx context.Context) error {
	wc, err := s.open()
	if err != nil {
		return core.ConnectError(s.name, err)
	}
	s.wc = wc
	s.enc = s.codec.NewEncoder(wc)
	return nil
}

func (s *WriterSink) Write(ctx context.Context, b core.Batch) error {
	for _, rec := range b {
		if err := s.enc.Encode(rec); err != nil {
			return core.WriteError(s.name, err)
		}
	}
	return nil
}

// Flush is a no-op: line formats reach the file on every Encode and array
// formats can only be written whole, on Close.
func (s *WriterSink) Flush(ctx context.Context) error { return nil }

func (s *WriterSink) Close() error {
	if s.wc == nil {
		return nil
	}
	err := multierr.Append(s.enc.Close(), s.wc.Close())
	s.wc = nil
	if err != nil {
		return core.WriteError(s.name, err)
	}
	return nil
}
