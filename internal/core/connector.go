package core

import "context"

// Source produces a lazy, forward-only sequence of records. Next returns
// io.EOF once the stream is exhausted; a source cannot be restarted.
type Source interface {
	Name() string
	Open(ctx context.Context) error
	Next(ctx context.Context) (Record, error)
	Close() error
}

// Sink consumes records. Write may buffer; Flush pushes anything buffered
// to the endpoint.
type Sink interface {
	Name() string
	Open(ctx context.Context) error
	Write(ctx context.Context, b Batch) error
	Flush(ctx context.Context) error
	Close() error
}

// OffsetTracker is implemented by partition-aware sources. Offsets returns
// the next offset to read per partition, as observed during this run.
type OffsetTracker interface {
	Offsets() map[int32]int64
}

// RecordChecker is implemented by sinks whose destination has a fixed
// shape, such as a table. CheckRecord reports a validation error for a
// record that cannot be written there.
type RecordChecker interface {
	CheckRecord(ctx context.Context, rec Record) error
}

// CheckerOf finds a RecordChecker in s or in the sinks it wraps.
func CheckerOf(s Sink) (RecordChecker, bool) {
	for s != nil {
		if c, ok := s.(RecordChecker); ok {
			return c, true
		}
		u, ok := s.(interface{ Unwrap() Sink })
		if !ok {
			break
		}
		s = u.Unwrap()
	}
	return nil, false
}
