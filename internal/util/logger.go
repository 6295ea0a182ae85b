package util

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a console logger at the given level writing to every
// writer in ws (stderr when none is given).
func NewLogger(level string, ws ...io.Writer) zerolog.Logger {
	if len(ws) == 0 {
		ws = []io.Writer{os.Stderr}
	}
	outs := make([]io.Writer, 0, len(ws))
	for _, w := range ws {
		outs = append(outs, zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339})
	}
	return zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(ParseLevel(level)).
		With().Timestamp().Logger()
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Transcript is a goroutine-safe in-memory log sink. A run writes its log
// here so the result can carry it back to the caller.
type Transcript struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *Transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Write(p)
}

func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
