// Package digest buffers units sharing a signature until their consolidation
// window closes, then emits a single message carrying the first head and last
// tail units plus a count of what was left out.
package digest

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"notifyrelay/internal/clock"
	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

const shardCount = 32

// DefaultKeep is the head and tail size used when a request leaves them unset.
const DefaultKeep = 5

// EmitFunc delivers a closed digest.
type EmitFunc func(ctx context.Context, d Digest) error

// Digest is one consolidated output.
type Digest struct {
	ID        string
	Key       string
	Channel   notify.Channel
	Contact   notify.Contact
	Address   string
	Subject   string
	Signature notify.Signature
	// Items are the head units followed by the tail units, in arrival order.
	Items []notify.Unit
	// HeadLen is how many of Items came from the head; the elided marker goes after them.
	HeadLen    int
	Total      int
	Elided     int
	OpenedAt   time.Time
	ClosedAt   time.Time
	Suppressed bool
	Content    notify.Content
}

type bucket struct {
	openedAt   time.Time
	closeAt    time.Time
	headCount  int
	tailCount  int
	head       []notify.Unit
	tail       []notify.Unit
	tailNext   int
	total      int
	suppressed bool
	first      notify.Unit
}

func (b *bucket) add(u notify.Unit) {
	if b.total == 0 {
		b.first = u
	}
	b.total++
	if len(b.head) < b.headCount {
		b.head = append(b.head, u)
		return
	}
	if b.tailCount <= 0 {
		return
	}
	if len(b.tail) < b.tailCount {
		b.tail = append(b.tail, u)
		return
	}
	b.tail[b.tailNext] = u
	b.tailNext = (b.tailNext + 1) % b.tailCount
}

// orderedTail unrolls the ring.
func (b *bucket) orderedTail() []notify.Unit {
	if len(b.tail) < b.tailCount || b.tailNext == 0 {
		return b.tail
	}
	out := make([]notify.Unit, 0, len(b.tail))
	out = append(out, b.tail[b.tailNext:]...)
	return append(out, b.tail[:b.tailNext]...)
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type Options struct {
	Clock clock.Clock
	Log   logx.Logger
}

type Engine struct {
	shards [shardCount]shard
	emit   EmitFunc
	clk    clock.Clock
	log    logx.Logger

	open     atomic.Int64
	buffered atomic.Int64
	emitted  atomic.Uint64
	failed   atomic.Uint64
}

func New(emit EmitFunc, opts Options) *Engine {
	e := &Engine{emit: emit, clk: clock.OrReal(opts.Clock), log: opts.Log.With(logx.String("comp", "digest"))}
	for i := range e.shards {
		e.shards[i].buckets = map[string]*bucket{}
	}
	return e
}

func (e *Engine) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &e.shards[h.Sum32()%shardCount]
}

// ConsolidateIntoDigest buffers u into the bucket of its key, creating it with
// closeAt, head and tail when absent. A closeAt that is not in the future is an
// open window: u is emitted at once as a single-item digest.
//
// A unit arriving after its bucket's close time (before the sweeper ran)
// flushes that bucket and starts a new one.
func (e *Engine) ConsolidateIntoDigest(ctx context.Context, u notify.Unit, closeAt time.Time, head, tail int) notify.Outcome {
	out := notify.Outcome{ContactID: u.Contact.ID, Channel: u.Channel, Regulation: u.Regulation}
	if head < 0 {
		head = 0
	}
	if tail < 0 {
		tail = 0
	}
	now := e.clk.Now()
	key := u.Key()

	if !closeAt.After(now) {
		b := &bucket{openedAt: now, closeAt: now, headCount: head, tailCount: tail, suppressed: u.Regulation == notify.DigestAndSuppress}
		if head == 0 && tail == 0 {
			b.headCount = 1
		}
		b.add(u)
		if err := e.flush(ctx, key, b, now); err != nil {
			out.Status = notify.StatusFailed
			out.Err = err
			out.Reason = err.Error()
			return out
		}
		out.Status = notify.StatusSent
		return out
	}

	sh := e.shardFor(key)
	var stale *bucket
	sh.mu.Lock()
	b := sh.buckets[key]
	if b != nil && !now.Before(b.closeAt) {
		stale = b
		b = nil
		e.open.Add(-1)
		e.buffered.Add(int64(-stale.total))
	}
	if b == nil {
		b = &bucket{openedAt: now, closeAt: closeAt, headCount: head, tailCount: tail}
		sh.buckets[key] = b
		e.open.Add(1)
	}
	if u.Regulation == notify.DigestAndSuppress {
		b.suppressed = true
	}
	b.add(u)
	e.buffered.Add(1)
	sh.mu.Unlock()

	// The stale bucket belongs to earlier requests; the caller's cancellation must not drop it.
	if stale != nil {
		_ = e.flush(context.WithoutCancel(ctx), key, stale, now)
	}
	out.Status = notify.StatusBuffered
	return out
}

// Sweep emits every bucket whose window has closed and returns how many were emitted.
func (e *Engine) Sweep(ctx context.Context) int {
	return e.drain(ctx, false)
}

// Flush emits every open bucket regardless of its close time. Used on shutdown.
func (e *Engine) Flush(ctx context.Context) int {
	return e.drain(ctx, true)
}

type closed struct {
	key string
	b   *bucket
}

func (e *Engine) drain(ctx context.Context, all bool) int {
	now := e.clk.Now()
	var due []closed
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.Lock()
		for k, b := range sh.buckets {
			if all || !now.Before(b.closeAt) {
				due = append(due, closed{key: k, b: b})
				delete(sh.buckets, k)
				e.open.Add(-1)
				e.buffered.Add(int64(-b.total))
			}
		}
		sh.mu.Unlock()
	}
	for _, c := range due {
		_ = e.flush(ctx, c.key, c.b, now)
	}
	return len(due)
}

func (e *Engine) flush(ctx context.Context, key string, b *bucket, now time.Time) error {
	d := build(key, b, now)
	d.Content = Render(d)
	if e.emit == nil {
		return nil
	}
	if err := e.emit(ctx, d); err != nil {
		e.failed.Add(1)
		e.log.Warn("digest emit failed", logx.String("key", key), logx.String("digest_id", d.ID), logx.Int("total", d.Total), logx.Err(err))
		return err
	}
	e.emitted.Add(1)
	e.log.Debug("digest emitted", logx.String("key", key), logx.String("digest_id", d.ID), logx.Int("total", d.Total), logx.Int("elided", d.Elided))
	return nil
}

func build(key string, b *bucket, now time.Time) Digest {
	tail := b.orderedTail()
	items := make([]notify.Unit, 0, len(b.head)+len(tail))
	items = append(items, b.head...)
	items = append(items, tail...)
	d := Digest{
		ID:         uuid.NewString(),
		Key:        key,
		Items:      items,
		HeadLen:    len(b.head),
		Total:      b.total,
		Elided:     b.total - len(items),
		OpenedAt:   b.openedAt,
		ClosedAt:   now,
		Suppressed: b.suppressed,
	}
	first := b.first
	d.Channel = first.Channel
	d.Contact = first.Contact
	d.Address = first.Address
	d.Subject = first.Message.Subject
	d.Signature = first.Signature
	return d
}

type Stats struct {
	OpenBuckets int
	Buffered    int
	Emitted     uint64
	Failed      uint64
}

func (e *Engine) Stats() Stats {
	return Stats{
		OpenBuckets: int(e.open.Load()),
		Buffered:    int(e.buffered.Load()),
		Emitted:     e.emitted.Load(),
		Failed:      e.failed.Load(),
	}
}
