package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuongceg/fluxmux/internal/core"
)

// SinkReport is the delivery account of one sink path.
type SinkReport struct {
	Name      string
	Attempted int64 // records handed to the path
	Delivered int64 // records acknowledged by the connector
	Dropped   int64 // removed by schema validation or dedup
	Failed    int64 // lost after retries, or queued behind a detach
	Attempts  int64 // connector write calls
	Pending   int64 // buffered but undelivered when the run ended
	Detached  bool
	Err       error
}

func reportOf(st *core.SinkState) SinkReport {
	return SinkReport{
		Name:      st.Name,
		Attempted: st.Attempted.Load(),
		Delivered: st.Delivered.Load(),
		Dropped:   st.Dropped.Load(),
		Failed:    st.Failed.Load(),
		Attempts:  st.Attempts.Load(),
		Pending:   st.Pending.Load(),
		Detached:  st.Detached(),
		Err:       st.Err(),
	}
}

// Result is what a run hands back to its caller.
type Result struct {
	RunID  string
	Status core.RunStatus
	// Err is the fatal error of a failed run, as it was raised.
	Err error
	// Errors lists non-fatal errors, e.g. sink failures under the
	// continue and detach policies.
	Errors []error

	RecordsRead   int64
	ActionDropped int64
	Offsets       map[int32]int64
	Sinks         []SinkReport

	Duration   time.Duration
	Transcript string
}

func (r Result) OK() bool { return r.Status == core.StatusCompleted }

// StatusText is "ok" or "error".
func (r Result) StatusText() string {
	if r.OK() {
		return "ok"
	}
	return "error"
}

// Summary renders the counts as a short human-readable table.
func (r Result) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s: %s in %s, read=%d dropped_by_actions=%d\n",
		r.RunID, r.StatusText(), r.Duration.Round(time.Millisecond), r.RecordsRead, r.ActionDropped)
	for _, s := range r.Sinks {
		fmt.Fprintf(&sb, "  %s: attempted=%d delivered=%d dropped=%d failed=%d writes=%d pending=%d",
			s.Name, s.Attempted, s.Delivered, s.Dropped, s.Failed, s.Attempts, s.Pending)
		if s.Detached {
			sb.WriteString(" detached")
		}
		if s.Err != nil {
			fmt.Fprintf(&sb, " error=%q", s.Err.Error())
		}
		sb.WriteByte('\n')
	}
	if r.Err != nil {
		fmt.Fprintf(&sb, "error: %v\n", r.Err)
	}
	return sb.String()
}
