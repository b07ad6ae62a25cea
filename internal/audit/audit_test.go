package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

type slowAppender struct {
	mu      sync.Mutex
	got     []notify.AuditEntry
	release chan struct{}
	err     error
}

func (s *slowAppender) AppendAudit(_ context.Context, e notify.AuditEntry) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	return s.err
}

func (s *slowAppender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestWriterDrainsOnStop(t *testing.T) {
	t.Parallel()

	dst := &slowAppender{}
	w := NewWriter("test", dst, 16, logx.Nop())
	w.Start(context.Background())
	for i := 0; i < 10; i++ {
		w.RecordAudit(context.Background(), notify.AuditEntry{Kind: notify.AuditDelivery})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if dst.count() != 10 || w.Stats().Written != 10 {
		t.Fatalf("written=%d", dst.count())
	}
	for _, e := range dst.got {
		if e.ID == "" || e.At.IsZero() {
			t.Fatalf("entry not stamped: %+v", e)
		}
	}
}

func TestWriterNeverBlocks(t *testing.T) {
	t.Parallel()

	dst := &slowAppender{release: make(chan struct{})}
	w := NewWriter("slow", dst, 2, logx.Nop())
	w.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			w.RecordAudit(context.Background(), notify.AuditEntry{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("RecordAudit blocked")
	}
	if w.Stats().Dropped == 0 {
		t.Fatalf("expected drops")
	}
	close(dst.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = w.Stop(ctx)
	w.RecordAudit(context.Background(), notify.AuditEntry{})
}

func TestWriterCountsFailures(t *testing.T) {
	t.Parallel()

	dst := &slowAppender{err: errors.New("disk full")}
	w := NewWriter("failing", dst, 4, logx.Nop())
	w.Start(context.Background())
	w.RecordAudit(context.Background(), notify.AuditEntry{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = w.Stop(ctx)
	if w.Stats().Failed != 1 {
		t.Fatalf("failed=%d", w.Stats().Failed)
	}
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a, b := &Memory{}, &Memory{}
	Multi{a, nil, b, Nop{}}.RecordAudit(context.Background(), notify.AuditEntry{Kind: notify.AuditDigest})
	if len(a.Entries()) != 1 || len(b.Filter(notify.AuditDigest)) != 1 {
		t.Fatalf("a=%d b=%d", len(a.Entries()), len(b.Entries()))
	}
}
