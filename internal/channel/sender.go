// Package channel delivers rendered content to recipients over email, SMS,
// voice and in-app. Providers implement Sender; Resilient adds rate limiting,
// retries and a circuit breaker around any Sender; Registry maps channels to
// senders for the router.
package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"notifyrelay/internal/notify"
)

// Sender delivers content to one address.
type Sender interface {
	Send(ctx context.Context, address string, c notify.Content) error
}

type SenderFunc func(ctx context.Context, address string, c notify.Content) error

func (f SenderFunc) Send(ctx context.Context, address string, c notify.Content) error {
	return f(ctx, address, c)
}

// Registry is safe for concurrent use; senders may be swapped at runtime.
type Registry struct {
	mu      sync.RWMutex
	senders map[notify.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: map[notify.Channel]Sender{}}
}

func (r *Registry) Register(ch notify.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil {
		delete(r.senders, ch)
		return
	}
	r.senders[ch] = s
}

func (r *Registry) Get(ch notify.Channel) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[ch]
	return s, ok
}

func (r *Registry) Channels() []notify.Channel {
	r.mu.RLock()
	out := make([]notify.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send routes to the sender of ch. Every failure wraps notify.ErrChannelSend.
func (r *Registry) Send(ctx context.Context, ch notify.Channel, address string, c notify.Content) error {
	s, ok := r.Get(ch)
	if !ok {
		return fmt.Errorf("%w: no sender for channel %s", notify.ErrChannelSend, ch)
	}
	if err := s.Send(ctx, address, c); err != nil {
		return fmt.Errorf("%w: %s: %w", notify.ErrChannelSend, ch, err)
	}
	return nil
}
