// Package audit records routing decisions and delivery attempts. Recording
// never blocks delivery: entries are queued and written in the background,
// and dropped (with a counter) when the queue is full.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"notifyrelay/internal/notify"
)

// Sink accepts audit entries. Implementations must not block the caller.
type Sink interface {
	RecordAudit(ctx context.Context, e notify.AuditEntry)
}

// Appender is a synchronous destination, wrapped by Writer.
type Appender interface {
	AppendAudit(ctx context.Context, e notify.AuditEntry) error
}

// Stamp fills the entry id and time when missing.
func Stamp(e notify.AuditEntry, now time.Time) notify.AuditEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = now
	}
	return e
}

// Multi fans out to every sink.
type Multi []Sink

func (m Multi) RecordAudit(ctx context.Context, e notify.AuditEntry) {
	for _, s := range m {
		if s != nil {
			s.RecordAudit(ctx, e)
		}
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) RecordAudit(context.Context, notify.AuditEntry) {}

// Memory keeps entries in memory.
type Memory struct {
	mu      sync.Mutex
	entries []notify.AuditEntry
}

func (m *Memory) RecordAudit(_ context.Context, e notify.AuditEntry) {
	m.mu.Lock()
	m.entries = append(m.entries, Stamp(e, time.Now()))
	m.mu.Unlock()
}

func (m *Memory) AppendAudit(ctx context.Context, e notify.AuditEntry) error {
	m.RecordAudit(ctx, e)
	return nil
}

func (m *Memory) Entries() []notify.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.AuditEntry(nil), m.entries...)
}

// Filter returns the entries of one kind.
func (m *Memory) Filter(kind notify.AuditKind) []notify.AuditEntry {
	var out []notify.AuditEntry
	for _, e := range m.Entries() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
