// Package stdio reads records from standard input and writes them to
// standard output, newline-delimited JSON unless a format is given.
package stdio

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/codec"
	"github.com/cuongceg/fluxmux/internal/connector/file"
	"github.com/cuongceg/fluxmux/internal/core"
)

// swapped in tests
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

func init() {
	core.RegisterSource(core.SchemeStdin, NewSource)
	core.RegisterSink(core.SchemeStdout, NewSink)
}

func NewSource(d core.Descriptor, log zerolog.Logger) (core.Source, error) {
	c, err := codec.ForName(d.Format())
	if err != nil {
		return nil, core.ConfigError("source "+d.Raw, "%v", err)
	}
	return file.NewReaderSource("stdin", c, func() (io.ReadCloser, error) {
		return io.NopCloser(stdin), nil
	}, log), nil
}

func NewSink(d core.Descriptor, log zerolog.Logger) (core.Sink, error) {
	c, err := codec.ForName(d.Format())
	if err != nil {
		return nil, core.ConfigError("sink "+d.Raw, "%v", err)
	}
	return file.NewWriterSink("stdout", c, func() (io.WriteCloser, error) {
		return nopWriteCloser{stdout}, nil
	}, log), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
