// Package directory serves contacts and groups to the router. It is
// read-mostly: writes come from seeding, reloads or an external admin tool.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"notifyrelay/internal/notify"
)

// Directory is the read API used by the router.
type Directory interface {
	// GetContact returns notify.ErrNotFound (wrapped) for unknown ids.
	GetContact(ctx context.Context, id string) (notify.Contact, error)
	// GetActiveGroupMembers returns the active member ids of an active group in
	// order; an inactive group yields none. Unknown groups return notify.ErrNotFound.
	GetActiveGroupMembers(ctx context.Context, id string) ([]string, error)
}

// Memory is an in-process directory.
type Memory struct {
	mu       sync.RWMutex
	contacts map[string]notify.Contact
	groups   map[string]notify.Group
}

func NewMemory() *Memory {
	return &Memory{contacts: map[string]notify.Contact{}, groups: map[string]notify.Group{}}
}

func (m *Memory) PutContact(c notify.Contact) {
	m.mu.Lock()
	m.contacts[c.ID] = c
	m.mu.Unlock()
}

func (m *Memory) PutGroup(g notify.Group) {
	m.mu.Lock()
	m.groups[g.ID] = g
	m.mu.Unlock()
}

// Replace swaps the whole content atomically.
func (m *Memory) Replace(contacts []notify.Contact, groups []notify.Group) {
	cs := make(map[string]notify.Contact, len(contacts))
	for _, c := range contacts {
		cs[c.ID] = c
	}
	gs := make(map[string]notify.Group, len(groups))
	for _, g := range groups {
		gs[g.ID] = g
	}
	m.mu.Lock()
	m.contacts, m.groups = cs, gs
	m.mu.Unlock()
}

func (m *Memory) GetContact(_ context.Context, id string) (notify.Contact, error) {
	m.mu.RLock()
	c, ok := m.contacts[id]
	m.mu.RUnlock()
	if !ok {
		return notify.Contact{}, fmt.Errorf("%w: contact %q", notify.ErrNotFound, id)
	}
	return c, nil
}

func (m *Memory) GetGroup(_ context.Context, id string) (notify.Group, error) {
	m.mu.RLock()
	g, ok := m.groups[id]
	m.mu.RUnlock()
	if !ok {
		return notify.Group{}, fmt.Errorf("%w: group %q", notify.ErrNotFound, id)
	}
	return g, nil
}

func (m *Memory) GetActiveGroupMembers(ctx context.Context, id string) ([]string, error) {
	g, err := m.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.ActiveMemberIDs(), nil
}

// Counts reports the number of contacts and groups.
func (m *Memory) Counts() (contacts, groups int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contacts), len(m.groups)
}

// ContactIDs lists contact ids in sorted order.
func (m *Memory) ContactIDs() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.contacts))
	for id := range m.contacts {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}
