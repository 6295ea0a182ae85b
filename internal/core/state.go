package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// RunStatus is the lifecycle state of one pipeline run.
type RunStatus string

const (
	StatusConstructed RunStatus = "constructed"
	StatusRunning     RunStatus = "running"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
)

// RunState is owned by a single run. It is threaded explicitly through
// the stages that need counters or per-sink state.
type RunState struct {
	ID        string
	StartedAt time.Time
	Log       zerolog.Logger

	Read          atomic.Int64
	ActionDropped atomic.Int64

	mu     sync.Mutex
	status RunStatus
	errs   error
	sinks  []*SinkState
}

func NewRunState(id string, log zerolog.Logger) *RunState {
	return &RunState{ID: id, StartedAt: time.Now(), Log: log, status: StatusConstructed}
}

func (s *RunState) Status() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *RunState) SetStatus(st RunStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// AddError records a non-fatal error for the completion report.
func (s *RunState) AddError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.errs = multierr.Append(s.errs, err)
	s.mu.Unlock()
}

// Errors returns the accumulated non-fatal errors.
func (s *RunState) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return multierr.Errors(s.errs)
}

// Sink registers the state of one sink path.
func (s *RunState) Sink(name string) *SinkState {
	st := &SinkState{Name: name, seen: map[uint64]struct{}{}}
	s.mu.Lock()
	s.sinks = append(s.sinks, st)
	s.mu.Unlock()
	return st
}

func (s *RunState) Sinks() []*SinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SinkState(nil), s.sinks...)
}

// SinkState holds the counters and middleware state of one sink path.
type SinkState struct {
	Name string

	Attempted atomic.Int64 // handed to the path by the tee
	Delivered atomic.Int64 // acknowledged by the connector
	Dropped   atomic.Int64 // discarded by schema or dedup
	Failed    atomic.Int64 // lost after retries were exhausted
	Attempts  atomic.Int64 // connector write calls
	Pending   atomic.Int64 // buffered, not yet handed to the connector

	detached atomic.Bool

	mu   sync.Mutex
	err  error
	seen map[uint64]struct{}
}

// Remember adds fp to the dedup window and reports whether it was new.
func (s *SinkState) Remember(fp uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[fp]; ok {
		return false
	}
	s.seen[fp] = struct{}{}
	return true
}

// Fail records the terminal error of the path. The first error wins.
func (s *SinkState) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *SinkState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Detach stops further deliveries to this path.
func (s *SinkState) Detach()        { s.detached.Store(true) }
func (s *SinkState) Detached() bool { return s.detached.Load() }
