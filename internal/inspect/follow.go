package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrStopped is returned by Poller.Next once Stop was called.
var ErrStopped = errors.New("poller stopped")

// Poller is the caller's handle on a live tail. The caller drives it by
// calling Next in a loop; every call is a fresh bounded Tail, so successive
// snapshots may overlap or skip messages depending on the topic.
type Poller struct {
	in    *Inspector
	n     int
	tick  *time.Ticker
	first bool

	stop chan struct{}
	once sync.Once
}

// Follow returns a poller for the n most recent messages, paced at one
// read per interval.
func (i *Inspector) Follow(n int, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		in:    i,
		n:     n,
		tick:  time.NewTicker(interval),
		first: true,
		stop:  make(chan struct{}),
	}
}

// Next waits for the next tick and reads a snapshot. The first call reads
// right away. Stop interrupts a waiting or in-flight call.
func (p *Poller) Next(ctx context.Context) ([]Message, error) {
	if !p.first {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.stop:
			return nil, ErrStopped
		case <-p.tick.C:
		}
	}
	p.first = false

	select {
	case <-p.stop:
		return nil, ErrStopped
	default:
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	msgs, err := p.in.Tail(ctx, p.n)
	if err != nil && p.stopped() {
		return nil, ErrStopped
	}
	return msgs, err
}

// Stop ends the poller. It is safe to call more than once and from another
// goroutine than the one calling Next.
func (p *Poller) Stop() {
	p.once.Do(func() {
		close(p.stop)
		p.tick.Stop()
	})
}

func (p *Poller) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Render writes msgs as a numbered list of payloads. When slots is larger
// than len(msgs) the remaining lines read "<nil>", so a follow view keeps a
// fixed height.
func Render(w io.Writer, msgs []Message, slots int) error {
	slots = max(slots, len(msgs))
	for k := 0; k < slots; k++ {
		val := "<nil>"
		if k < len(msgs) {
			val = string(msgs[k].Value)
		}
		if _, err := fmt.Fprintf(w, "%d) %s\n", k+1, val); err != nil {
			return err
		}
	}
	return nil
}
