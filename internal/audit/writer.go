package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"notifyrelay/internal/notify"
	rtsup "notifyrelay/internal/runtime/supervisor"
	logx "notifyrelay/pkg/logx"
)

var ErrStopped = errors.New("audit writer stopped")

// Writer queues entries and appends them to dst from one background loop.
type Writer struct {
	name string
	dst  Appender
	log  logx.Logger

	mu        sync.RWMutex
	queue     chan notify.AuditEntry
	accepting bool
	sup       *rtsup.Supervisor
	done      chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewWriter(name string, dst Appender, queueSize int, log logx.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Writer{
		name:  name,
		dst:   dst,
		log:   log.With(logx.String("comp", "audit"), logx.String("sink", name)),
		queue: make(chan notify.AuditEntry, queueSize),
	}
}

// Start launches the append loop. It is a no-op when already started.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sup != nil {
		return
	}
	w.accepting = true
	w.done = make(chan struct{})
	w.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(w.log))
	q, done := w.queue, w.done
	w.sup.Go("audit."+w.name, func(ctx context.Context) error {
		defer close(done)
		w.loop(ctx, q)
		return nil
	})
}

func (w *Writer) loop(ctx context.Context, q <-chan notify.AuditEntry) {
	for e := range q {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := w.append(cctx, e)
		cancel()
		if err != nil {
			w.failed.Add(1)
			w.log.Warn("audit append failed", logx.String("entry", e.ID), logx.Err(err))
			continue
		}
		w.written.Add(1)
	}
}

func (w *Writer) append(ctx context.Context, e notify.AuditEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("audit destination panicked")
		}
	}()
	return w.dst.AppendAudit(ctx, e)
}

// RecordAudit enqueues e without blocking.
func (w *Writer) RecordAudit(_ context.Context, e notify.AuditEntry) {
	e = Stamp(e, time.Now())
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.accepting {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- e:
	default:
		if w.dropped.Add(1)%100 == 1 {
			w.log.Warn("audit queue full, dropping entries", logx.Int64("dropped", int64(w.dropped.Load())))
		}
	}
}

// Stop stops intake and drains the queue until ctx ends.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.accepting {
		w.mu.Unlock()
		return nil
	}
	w.accepting = false
	close(w.queue)
	done, sup := w.done, w.sup
	w.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		sup.Cancel()
		return ctx.Err()
	}
}

type WriterStats struct {
	Written uint64
	Dropped uint64
	Failed  uint64
	Queued  int
}

func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		Queued:  len(w.queue),
	}
}
