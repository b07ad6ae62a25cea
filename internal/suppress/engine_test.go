package suppress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"notifyrelay/internal/clock"
	"notifyrelay/internal/notify"
)

func testUnit(contactID, subject string) notify.Unit {
	m := notify.Message{ID: "m-" + subject, Subject: subject, Payload: notify.Payload{SMSText: "body"}}
	u, _ := notify.NewUnit(m, notify.Contact{ID: contactID, UserRef: "u-" + contactID, SMSNumber: "+100"}, notify.ChannelSMS)
	u.Regulation = notify.Suppress
	return u
}

type countingDeliver struct {
	n   atomic.Int64
	err error
}

func (c *countingDeliver) deliver(context.Context, notify.Unit) error {
	c.n.Add(1)
	return c.err
}

func TestDuplicatesInsideWindowAreDropped(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	d := &countingDeliver{}
	e := New(d.deliver, Options{Clock: clk})
	u := testUnit("c1", "disk")

	const n = 5
	statuses := map[notify.Status]int{}
	for i := 0; i < n; i++ {
		statuses[e.MaybeSuppress(context.Background(), u, 10*time.Minute).Status]++
		clk.Advance(time.Minute)
	}
	if d.n.Load() != 1 || statuses[notify.StatusSent] != 1 || statuses[notify.StatusSuppressed] != n-1 {
		t.Fatalf("sends=%d statuses=%v", d.n.Load(), statuses)
	}
	if got := e.SuppressedCount(u.Key()); got != n-1 {
		t.Fatalf("suppressed count=%d", got)
	}
}

func TestExpiredWindowSendsAgain(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	d := &countingDeliver{}
	e := New(d.deliver, Options{Clock: clk})
	u := testUnit("c1", "disk")

	e.MaybeSuppress(context.Background(), u, 10*time.Minute)
	clk.Advance(10 * time.Minute)
	if out := e.MaybeSuppress(context.Background(), u, 10*time.Minute); out.Status != notify.StatusSent {
		t.Fatalf("status after expiry=%s", out.Status)
	}
	if d.n.Load() != 2 {
		t.Fatalf("sends=%d", d.n.Load())
	}
}

func TestNonPositiveWindowAlwaysSends(t *testing.T) {
	t.Parallel()

	d := &countingDeliver{}
	e := New(d.deliver, Options{Clock: clock.NewFake(time.Unix(0, 0))})
	u := testUnit("c1", "disk")
	for _, w := range []time.Duration{0, -time.Minute, 0} {
		if out := e.MaybeSuppress(context.Background(), u, w); out.Status != notify.StatusSent {
			t.Fatalf("window %v status=%s", w, out.Status)
		}
	}
	if d.n.Load() != 3 || e.Stats().Entries != 0 {
		t.Fatalf("sends=%d entries=%d", d.n.Load(), e.Stats().Entries)
	}
}

func TestFailedSendKeepsWindow(t *testing.T) {
	t.Parallel()

	d := &countingDeliver{err: errors.New("gateway down")}
	e := New(d.deliver, Options{Clock: clock.NewFake(time.Unix(0, 0))})
	u := testUnit("c1", "disk")

	if out := e.MaybeSuppress(context.Background(), u, time.Hour); out.Status != notify.StatusFailed || out.Reason == "" {
		t.Fatalf("first=%+v", out)
	}
	if out := e.MaybeSuppress(context.Background(), u, time.Hour); out.Status != notify.StatusSuppressed {
		t.Fatalf("second=%s", out.Status)
	}
}

func TestDistinctKeysDoNotInterfere(t *testing.T) {
	t.Parallel()

	d := &countingDeliver{}
	e := New(d.deliver, Options{Clock: clock.NewFake(time.Unix(0, 0))})
	e.MaybeSuppress(context.Background(), testUnit("c1", "disk"), time.Hour)
	e.MaybeSuppress(context.Background(), testUnit("c2", "disk"), time.Hour)
	e.MaybeSuppress(context.Background(), testUnit("c1", "cpu"), time.Hour)
	if d.n.Load() != 3 {
		t.Fatalf("sends=%d", d.n.Load())
	}
}

func TestConcurrentArrivalsSendOnce(t *testing.T) {
	t.Parallel()

	d := &countingDeliver{}
	e := New(d.deliver, Options{Clock: clock.NewFake(time.Unix(0, 0))})
	u := testUnit("c1", "disk")

	var (
		wg         sync.WaitGroup
		suppressed atomic.Int64
	)
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.MaybeSuppress(context.Background(), u, time.Hour).Status == notify.StatusSuppressed {
				suppressed.Add(1)
			}
		}()
	}
	wg.Wait()
	if d.n.Load() != 1 || suppressed.Load() != 999 {
		t.Fatalf("sends=%d suppressed=%d", d.n.Load(), suppressed.Load())
	}
}

type vetoLedger struct{ err error }

func (v vetoLedger) Claim(context.Context, string, time.Time, time.Time) (bool, error) {
	return false, v.err
}

func TestLedgerVetoAndFailOpen(t *testing.T) {
	t.Parallel()

	d := &countingDeliver{}
	e := New(d.deliver, Options{Clock: clock.NewFake(time.Unix(0, 0)), Ledger: vetoLedger{}})
	if out := e.MaybeSuppress(context.Background(), testUnit("c1", "disk"), time.Hour); out.Status != notify.StatusSuppressed {
		t.Fatalf("veto status=%s", out.Status)
	}

	e = New(d.deliver, Options{Clock: clock.NewFake(time.Unix(0, 0)), Ledger: vetoLedger{err: errors.New("redis down")}})
	if out := e.MaybeSuppress(context.Background(), testUnit("c1", "disk"), time.Hour); out.Status != notify.StatusSent {
		t.Fatalf("fail-open status=%s", out.Status)
	}
	if d.n.Load() != 1 {
		t.Fatalf("sends=%d", d.n.Load())
	}
}

func TestSharedMemoryLedgerAcrossEngines(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Unix(0, 0))
	ledger := NewMemoryLedger()
	d := &countingDeliver{}
	a := New(d.deliver, Options{Clock: clk, Ledger: ledger})
	b := New(d.deliver, Options{Clock: clk, Ledger: ledger})
	u := testUnit("c1", "disk")
	a.MaybeSuppress(context.Background(), u, time.Hour)
	if out := b.MaybeSuppress(context.Background(), u, time.Hour); out.Status != notify.StatusSuppressed {
		t.Fatalf("second instance status=%s", out.Status)
	}
	if d.n.Load() != 1 {
		t.Fatalf("sends=%d", d.n.Load())
	}
}

func TestReapAndMaxEntries(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Unix(0, 0))
	d := &countingDeliver{}
	e := New(d.deliver, Options{Clock: clk, MaxEntries: 2})

	e.MaybeSuppress(context.Background(), testUnit("c1", "a"), 10*time.Minute)
	e.MaybeSuppress(context.Background(), testUnit("c2", "a"), 20*time.Minute)
	e.MaybeSuppress(context.Background(), testUnit("c3", "a"), 30*time.Minute)
	if got := e.Stats().Entries; got != 2 {
		t.Fatalf("entries=%d", got)
	}
	if _, ok := e.Lookup(testUnit("c1", "a").Key()); ok {
		t.Fatalf("earliest-expiring entry must be evicted")
	}

	clk.Advance(25 * time.Minute)
	if n := e.Reap(clk.Now()); n != 1 {
		t.Fatalf("reaped=%d", n)
	}
	if got := e.Stats().Entries; got != 1 {
		t.Fatalf("entries after reap=%d", got)
	}
}
