package channel

import (
	"context"
	"sync"
	"time"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

// Delivery is one recorded send.
type Delivery struct {
	At      time.Time
	Address string
	Content notify.Content
}

// Memory records deliveries instead of sending them. Failures can be injected per address.
type Memory struct {
	mu    sync.Mutex
	sent  []Delivery
	fail  map[string]error
	delay time.Duration
}

func NewMemory() *Memory { return &Memory{fail: map[string]error{}} }

// FailFor makes every send to address return err; nil clears it.
func (m *Memory) FailFor(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, address)
		return
	}
	m.fail[address] = err
}

// SetDelay makes each send block for d (or until the context ends).
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

func (m *Memory) Send(ctx context.Context, address string, c notify.Content) error {
	m.mu.Lock()
	d := m.delay
	err := m.fail[address]
	m.mu.Unlock()
	if d > 0 {
		if serr := sleepCtx(ctx, d); serr != nil {
			return serr
		}
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, Delivery{At: time.Now(), Address: address, Content: c})
	m.mu.Unlock()
	return nil
}

func (m *Memory) Sent() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.sent...)
}

func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Log writes deliveries to the logger. It stands in for a provider in development.
type Log struct {
	Channel notify.Channel
	Log     logx.Logger
}

func (l Log) Send(_ context.Context, address string, c notify.Content) error {
	l.Log.Info("delivery", logx.String("channel", string(l.Channel)), logx.String("to", address), logx.String("subject", c.Subject), logx.Int("bytes", len(c.Text)+len(c.HTML)))
	return nil
}
