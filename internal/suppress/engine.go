// Package suppress deduplicates units sharing a signature within a rolling window.
//
// The first unit of a key opens a window and is delivered; every later unit
// with the same key arriving before the window expires is dropped. Expired
// entries are replaced lazily on arrival and removed by Reap.
package suppress

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"notifyrelay/internal/clock"
	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

const shardCount = 32

// DeliverFunc sends a unit through its channel.
type DeliverFunc func(ctx context.Context, u notify.Unit) error

type Options struct {
	Clock clock.Clock
	// Ledger, when set, is consulted before the first send of a window so
	// that other relay instances (or a previous process) can veto it.
	Ledger Ledger
	// MaxEntries caps tracked windows; the earliest-expiring entries are
	// evicted first. <= 0 means unbounded.
	MaxEntries int
	Log        logx.Logger
}

type entry struct {
	firstSeen  time.Time
	expires    time.Time
	messageID  string
	suppressed int
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type Engine struct {
	shards  [shardCount]shard
	count   atomic.Int64
	dropped atomic.Uint64

	deliver DeliverFunc
	clk     clock.Clock
	ledger  Ledger
	max     int
	log     logx.Logger
}

func New(deliver DeliverFunc, opts Options) *Engine {
	e := &Engine{
		deliver: deliver,
		clk:     clock.OrReal(opts.Clock),
		ledger:  opts.Ledger,
		max:     opts.MaxEntries,
		log:     opts.Log.With(logx.String("comp", "suppress")),
	}
	for i := range e.shards {
		e.shards[i].entries = map[string]*entry{}
	}
	return e
}

func (e *Engine) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &e.shards[h.Sum32()%shardCount]
}

// MaybeSuppress delivers u unless a window for its key is already open.
// A window <= 0 disables suppression: the unit is delivered and no entry is kept.
//
// The window entry is kept even when the representative send fails, so
// duplicates inside the window stay suppressed.
func (e *Engine) MaybeSuppress(ctx context.Context, u notify.Unit, window time.Duration) notify.Outcome {
	out := notify.Outcome{ContactID: u.Contact.ID, Channel: u.Channel, Regulation: u.Regulation}
	if window <= 0 {
		return e.send(ctx, u, out)
	}

	key := u.Key()
	now := e.clk.Now()
	sh := e.shardFor(key)

	sh.mu.Lock()
	if cur, ok := sh.entries[key]; ok {
		if now.Before(cur.expires) {
			cur.suppressed++
			sh.mu.Unlock()
			e.dropped.Add(1)
			e.log.Debug("suppressed duplicate", logx.String("key", key), logx.Time("until", cur.expires))
			out.Status = notify.StatusSuppressed
			return out
		}
		delete(sh.entries, key)
		e.count.Add(-1)
	}
	ent := &entry{firstSeen: now, expires: now.Add(window), messageID: u.Message.ID}
	sh.entries[key] = ent
	sh.mu.Unlock()
	if n := e.count.Add(1); e.max > 0 && int(n) > e.max {
		e.evict(now)
	}

	if e.ledger != nil {
		claimed, err := e.ledger.Claim(ctx, key, ent.expires, now)
		switch {
		case err != nil:
			e.log.Warn("suppression ledger unavailable, sending", logx.String("key", key), logx.Err(err))
		case !claimed:
			e.dropped.Add(1)
			out.Status = notify.StatusSuppressed
			out.Reason = "claimed elsewhere"
			return out
		}
	}
	return e.send(ctx, u, out)
}

func (e *Engine) send(ctx context.Context, u notify.Unit, out notify.Outcome) notify.Outcome {
	if e.deliver == nil {
		out.Status = notify.StatusFailed
		out.Err = fmt.Errorf("%w: no deliver function", notify.ErrRegulationState)
		out.Reason = out.Err.Error()
		return out
	}
	if err := e.deliver(ctx, u); err != nil {
		out.Status = notify.StatusFailed
		out.Err = err
		out.Reason = err.Error()
		return out
	}
	out.Status = notify.StatusSent
	return out
}

// Reap removes every entry whose window has expired at now.
func (e *Engine) Reap(now time.Time) int {
	n := 0
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.Lock()
		for k, ent := range sh.entries {
			if !now.Before(ent.expires) {
				delete(sh.entries, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	e.count.Add(int64(-n))
	return n
}

// evict enforces MaxEntries: expired entries go first, then the earliest-expiring ones.
func (e *Engine) evict(now time.Time) {
	e.Reap(now)
	for int(e.count.Load()) > e.max {
		var (
			victim  *shard
			key     string
			expires time.Time
		)
		for i := range e.shards {
			sh := &e.shards[i]
			sh.mu.Lock()
			for k, ent := range sh.entries {
				if victim == nil || ent.expires.Before(expires) {
					victim, key, expires = sh, k, ent.expires
				}
			}
			sh.mu.Unlock()
		}
		if victim == nil {
			return
		}
		victim.mu.Lock()
		if ent, ok := victim.entries[key]; ok && ent.expires.Equal(expires) {
			delete(victim.entries, key)
			e.count.Add(-1)
		}
		victim.mu.Unlock()
	}
}

// Window describes the open window of a key.
type Window struct {
	FirstSeen  time.Time
	Expires    time.Time
	MessageID  string
	Suppressed int
}

// Lookup returns the open window for key, if any.
func (e *Engine) Lookup(key string) (Window, bool) {
	sh := e.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ent, ok := sh.entries[key]
	if !ok || !e.clk.Now().Before(ent.expires) {
		return Window{}, false
	}
	return Window{FirstSeen: ent.firstSeen, Expires: ent.expires, MessageID: ent.messageID, Suppressed: ent.suppressed}, true
}

// SuppressedCount is the number of units dropped in key's current window.
func (e *Engine) SuppressedCount(key string) int {
	w, _ := e.Lookup(key)
	return w.Suppressed
}

type Stats struct {
	Entries    int
	Suppressed uint64
}

func (e *Engine) Stats() Stats {
	return Stats{Entries: int(e.count.Load()), Suppressed: e.dropped.Load()}
}
