// Package inspect reads a bounded slice of a Kafka topic without joining a
// consumer group: the first n messages, the most recent n, or the most
// recent n again and again on a timer.
package inspect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"

	"github.com/cuongceg/fluxmux/internal/core"
)

const (
	DefaultTimeout  = 10 * time.Second
	defaultClientID = "fluxmux-inspect"
)

// Message is one fetched record.
type Message struct {
	Value     []byte
	Key       []byte
	Partition int32
	Offset    int64
	Timestamp time.Time
}

type Config struct {
	Brokers []string
	Topic   string
	// Timeout bounds one Head or Tail call.
	Timeout  time.Duration
	ClientID string
}

// Inspector holds an admin connection used to look up partition offsets.
// Every fetch runs on its own short-lived consumer.
type Inspector struct {
	cfg  Config
	opts []kgo.Opt
	cl   *kgo.Client
	adm  *kadm.Client
	log  zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Inspector, error) {
	if len(cfg.Brokers) == 0 {
		return nil, core.ConfigError("kafka inspect", "no brokers given")
	}
	if cfg.Topic == "" {
		return nil, core.ConfigError("kafka inspect", "no topic given")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.FetchMaxWait(200 * time.Millisecond),
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, core.ConfigError("kafka inspect", "%v", err)
	}
	return &Inspector{
		cfg:  cfg,
		opts: opts,
		cl:   cl,
		adm:  kadm.NewClient(cl),
		log:  log.With().Str("topic", cfg.Topic).Logger(),
	}, nil
}

func (i *Inspector) Close() { i.cl.Close() }

func (i *Inspector) Brokers() []string { return i.cfg.Brokers }
func (i *Inspector) Topic() string     { return i.cfg.Topic }

type span struct{ from, to int64 } // [from, to)

// bounds returns the earliest and next offsets of every partition.
func (i *Inspector) bounds(ctx context.Context) (map[int32]span, error) {
	op := "kafka inspect " + i.cfg.Topic
	starts, err := i.adm.ListStartOffsets(ctx, i.cfg.Topic)
	if err != nil {
		return nil, core.ConnectError(op, err)
	}
	ends, err := i.adm.ListEndOffsets(ctx, i.cfg.Topic)
	if err != nil {
		return nil, core.ConnectError(op, err)
	}
	if err := multierr.Append(starts.Error(), ends.Error()); err != nil {
		return nil, core.ConnectError(op, err)
	}

	out := map[int32]span{}
	starts.Each(func(lo kadm.ListedOffset) {
		end, ok := ends.Lookup(lo.Topic, lo.Partition)
		if !ok {
			return
		}
		out[lo.Partition] = span{lo.Offset, end.Offset}
	})
	if len(out) == 0 {
		return nil, core.ConfigError(op, "topic has no partitions")
	}
	return out, nil
}

// Head returns the first n messages from the earliest available offsets,
// in partition-then-offset order.
func (i *Inspector) Head(ctx context.Context, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	b, err := i.bounds(ctx)
	if err != nil {
		return nil, err
	}
	want := map[int32]span{}
	left := int64(n)
	for _, p := range sortedPartitions(b) {
		s := b[p]
		k := min(s.to-s.from, left)
		if k > 0 {
			want[p] = span{s.from, s.from + k}
			left -= k
		}
		if left == 0 {
			break
		}
	}
	msgs, err := i.fetch(ctx, want)
	if err != nil {
		return nil, err
	}
	sortByPosition(msgs)
	return msgs, nil
}

// Tail returns the n most recent messages of the topic, picked by record
// timestamp across partitions and returned in partition-then-offset order.
// Every call is a fresh read.
func (i *Inspector) Tail(ctx context.Context, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	b, err := i.bounds(ctx)
	if err != nil {
		return nil, err
	}
	want := map[int32]span{}
	for p, s := range b {
		from := max(s.from, s.to-int64(n))
		if from < s.to {
			want[p] = span{from, s.to}
		}
	}
	msgs, err := i.fetch(ctx, want)
	if err != nil {
		return nil, err
	}
	if len(msgs) > n {
		sort.SliceStable(msgs, func(a, b int) bool {
			ma, mb := msgs[a], msgs[b]
			if !ma.Timestamp.Equal(mb.Timestamp) {
				return ma.Timestamp.Before(mb.Timestamp)
			}
			if ma.Partition != mb.Partition {
				return ma.Partition < mb.Partition
			}
			return ma.Offset < mb.Offset
		})
		msgs = msgs[len(msgs)-n:]
	}
	sortByPosition(msgs)
	return msgs, nil
}

// fetch reads exactly the given offset spans. Offsets that never arrive
// within the timeout, e.g. transaction markers, end the read early.
func (i *Inspector) fetch(ctx context.Context, want map[int32]span) ([]Message, error) {
	if len(want) == 0 {
		return nil, nil
	}
	start := map[int32]kgo.Offset{}
	for p, s := range want {
		start[p] = kgo.NewOffset().At(s.from)
	}
	opts := append([]kgo.Opt{}, i.opts...)
	opts = append(opts, kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{i.cfg.Topic: start}))
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, core.ConfigError("kafka inspect", "%v", err)
	}
	defer cl.Close()

	fctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	done := map[int32]bool{}
	var out []Message
	for len(done) < len(want) {
		fs := cl.PollFetches(fctx)
		if fctx.Err() != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			i.log.Warn().Int("partitions_incomplete", len(want)-len(done)).Dur("timeout", i.cfg.Timeout).Msg("fetch timed out, returning partial result")
			break
		}
		var ferr error
		fs.EachError(func(_ string, p int32, err error) {
			ferr = multierr.Append(ferr, fmt.Errorf("partition %d: %w", p, err))
		})
		if ferr != nil {
			return nil, core.ConnectError("kafka inspect "+i.cfg.Topic, ferr)
		}
		fs.EachRecord(func(r *kgo.Record) {
			s, ok := want[r.Partition]
			if !ok || done[r.Partition] || r.Offset < s.from {
				return
			}
			if r.Offset < s.to {
				out = append(out, Message{
					Value:     r.Value,
					Key:       r.Key,
					Partition: r.Partition,
					Offset:    r.Offset,
					Timestamp: r.Timestamp,
				})
			}
			if r.Offset >= s.to-1 {
				done[r.Partition] = true
			}
		})
	}
	return out, nil
}

func sortedPartitions(b map[int32]span) []int32 {
	ps := make([]int32, 0, len(b))
	for p := range b {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(a, b int) bool { return ps[a] < ps[b] })
	return ps
}

func sortByPosition(msgs []Message) {
	sort.Slice(msgs, func(a, b int) bool {
		if msgs[a].Partition != msgs[b].Partition {
			return msgs[a].Partition < msgs[b].Partition
		}
		return msgs[a].Offset < msgs[b].Offset
	})
}
