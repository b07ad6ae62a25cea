package channel

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

// Policy controls retries, pacing and circuit breaking for one channel.
type Policy struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	// Timeout bounds a single provider call.
	Timeout time.Duration
	// RatePerSec <= 0 disables pacing.
	RatePerSec float64
	Burst      int
	// CircuitTrip consecutive failures open the circuit for CircuitCooldown
	// (doubling while failures continue, capped at CircuitMaxCooldown).
	// <= 0 disables the breaker.
	CircuitTrip        int
	CircuitCooldown    time.Duration
	CircuitMaxCooldown time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.RetryBase <= 0 {
		p.RetryBase = 500 * time.Millisecond
	}
	if p.RetryMax <= 0 {
		p.RetryMax = 10 * time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.Burst <= 0 {
		p.Burst = int(p.RatePerSec)
		if p.Burst < 1 {
			p.Burst = 1
		}
	}
	if p.CircuitCooldown <= 0 {
		p.CircuitCooldown = 5 * time.Second
	}
	if p.CircuitMaxCooldown < p.CircuitCooldown {
		p.CircuitMaxCooldown = 2 * time.Minute
	}
	return p
}

// Observer receives one call per provider attempt.
type Observer interface {
	ObserveAttempt(ch notify.Channel, err error, took time.Duration)
}

// Resilient wraps a provider Sender.
type Resilient struct {
	ch      notify.Channel
	next    Sender
	pol     Policy
	limiter *rate.Limiter
	obs     Observer
	log     logx.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	fails     int
	openUntil time.Time
}

func NewResilient(ch notify.Channel, next Sender, pol Policy, obs Observer, log logx.Logger) *Resilient {
	pol = pol.withDefaults()
	r := &Resilient{
		ch:    ch,
		next:  next,
		pol:   pol,
		obs:   obs,
		log:   log.With(logx.String("comp", "channel"), logx.String("channel", string(ch))),
		sleep: sleepCtx,
	}
	if pol.RatePerSec > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(pol.RatePerSec), pol.Burst)
	}
	return r
}

func (r *Resilient) Send(ctx context.Context, address string, c notify.Content) error {
	if until, open := r.circuitOpen(time.Now()); open {
		return RetryAfter(ErrCircuitOpen, time.Until(until))
	}

	var lastErr error
	for attempt := 1; attempt <= r.pol.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, r.pol.Timeout)
		start := time.Now()
		err := r.next.Send(callCtx, address, c)
		cancel()
		if r.obs != nil {
			r.obs.ObserveAttempt(r.ch, err, time.Since(start))
		}
		r.record(time.Now(), err)
		if err == nil {
			return nil
		}
		lastErr = err
		r.log.Debug("send attempt failed", logx.Int("attempt", attempt), logx.Int("max", r.pol.MaxAttempts), logx.Err(err))

		if IsPermanent(err) || attempt >= r.pol.MaxAttempts || ctx.Err() != nil {
			break
		}
		if _, open := r.circuitOpen(time.Now()); open {
			break
		}
		if err := r.sleep(ctx, r.delay(attempt, err)); err != nil {
			break
		}
	}
	return lastErr
}

func (r *Resilient) delay(attempt int, err error) time.Duration {
	if hint, ok := retryAfterHint(err); ok {
		if hint > r.pol.RetryMax {
			return r.pol.RetryMax
		}
		return hint
	}
	return retryDelay(r.pol.RetryBase, r.pol.RetryMax, attempt)
}

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter, capped at max.
func retryDelay(base, maxD time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}

func (r *Resilient) circuitOpen(now time.Time) (time.Time, bool) {
	if r.pol.CircuitTrip <= 0 {
		return time.Time{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.openUntil.IsZero() && now.Before(r.openUntil) {
		return r.openUntil, true
	}
	return time.Time{}, false
}

func (r *Resilient) record(now time.Time, err error) {
	if r.pol.CircuitTrip <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.fails = 0
		r.openUntil = time.Time{}
		return
	}
	// Permanent errors do not count toward the breaker.
	if IsPermanent(err) {
		return
	}
	r.fails++
	if r.fails < r.pol.CircuitTrip {
		return
	}
	d := r.pol.CircuitCooldown
	for i := 0; i < r.fails-r.pol.CircuitTrip; i++ {
		d *= 2
		if d >= r.pol.CircuitMaxCooldown {
			d = r.pol.CircuitMaxCooldown
			break
		}
	}
	if r.openUntil.IsZero() || !now.Before(r.openUntil) {
		r.log.Warn("circuit opened", logx.Int("fails", r.fails), logx.Duration("cooldown", d))
	}
	r.openUntil = now.Add(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsCircuitOpen reports whether err came from an open breaker.
func IsCircuitOpen(err error) bool { return errors.Is(err, ErrCircuitOpen) }
