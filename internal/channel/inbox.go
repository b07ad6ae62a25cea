package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"notifyrelay/internal/eventbus"
	"notifyrelay/internal/notify"
)

// InboxItem is one in-app notification.
type InboxItem struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Subject string    `json:"subject"`
	Text    string    `json:"text"`
	Read    bool      `json:"read"`
}

// Inbox is the in-app channel: a bounded per-user history that the UI polls,
// with a bus event per delivery for push-style listeners.
type Inbox struct {
	mu    sync.Mutex
	items map[string][]InboxItem
	limit int
	bus   eventbus.Bus
}

func NewInbox(limit int, bus eventbus.Bus) *Inbox {
	if limit <= 0 {
		limit = 200
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Inbox{items: map[string][]InboxItem{}, limit: limit, bus: bus}
}

func (b *Inbox) Send(_ context.Context, address string, c notify.Content) error {
	if address == "" {
		return Permanent(errors.New("empty in-app user reference"))
	}
	it := InboxItem{ID: uuid.NewString(), At: time.Now(), Subject: c.Subject, Text: c.Text}
	b.mu.Lock()
	list := append(b.items[address], it)
	if len(list) > b.limit {
		list = append([]InboxItem(nil), list[len(list)-b.limit:]...)
	}
	b.items[address] = list
	b.mu.Unlock()

	b.bus.Publish(eventbus.Event{Type: eventbus.TypeInApp, Time: it.At, Data: it})
	return nil
}

// List returns the user's items, newest last.
func (b *Inbox) List(user string) []InboxItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]InboxItem(nil), b.items[user]...)
}

// Unread counts unread items.
func (b *Inbox) Unread(user string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, it := range b.items[user] {
		if !it.Read {
			n++
		}
	}
	return n
}

// MarkRead marks one item read and reports whether it existed.
func (b *Inbox) MarkRead(user, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.items[user]
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
			return true
		}
	}
	return false
}
