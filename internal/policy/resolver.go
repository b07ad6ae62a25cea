// Package policy resolves the regulation a contact wants for a severity at a
// given instant, per channel, from the contact's time-severity tables.
package policy

import (
	"sync"
	"time"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

// Config is the resolver's runtime configuration; it can be re-applied at runtime.
type Config struct {
	// Hours applies to contacts whose locale has no entry in Locales.
	Hours   BusinessHours
	Locales map[string]BusinessHours
	// Fallback is the last-resort table; missing shifts use Allow in business
	// hours and Digest otherwise.
	Fallback notify.ShiftTable
}

// Decision is the per-channel regulation for one (contact, severity, instant).
type Decision struct {
	Shift    notify.Shift
	Severity notify.Severity
	Base     notify.Regulation
	Channels map[notify.Channel]notify.Regulation
}

// For returns the regulation for ch.
func (d Decision) For(ch notify.Channel) notify.Regulation {
	if r, ok := d.Channels[ch]; ok {
		return r
	}
	return d.Base
}

type Resolver struct {
	mu  sync.RWMutex
	cfg Config

	locMu sync.Mutex
	locs  map[string]*time.Location

	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Resolver {
	r := &Resolver{locs: map[string]*time.Location{}, log: log}
	r.Apply(cfg)
	return r
}

// Apply swaps the configuration atomically.
func (r *Resolver) Apply(cfg Config) {
	if cfg.Hours.Start == 0 && cfg.Hours.End == 0 {
		cfg.Hours = DefaultHours
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Resolver) location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	r.locMu.Lock()
	defer r.locMu.Unlock()
	if loc, ok := r.locs[tz]; ok {
		return loc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.log.Warn("unknown time zone, using UTC", logx.String("tz", tz), logx.Err(err))
		loc = time.UTC
	}
	r.locs[tz] = loc
	return loc
}

// Shift classifies now in the contact's local time zone.
func (r *Resolver) Shift(c notify.Contact, now time.Time) notify.Shift {
	r.mu.RLock()
	h, ok := r.cfg.Locales[c.Locale]
	if !ok {
		h = r.cfg.Hours
	}
	r.mu.RUnlock()
	return h.Classify(now.In(r.location(c.TimeZone)))
}

// Resolve never fails. Unknown severities map to Digest.
func (r *Resolver) Resolve(c notify.Contact, sev notify.Severity, now time.Time) Decision {
	shift := r.Shift(c, now)
	d := Decision{Shift: shift, Severity: sev}
	if !sev.Valid() {
		d.Base = notify.Digest
		return d
	}
	d.Base = r.lookup(c.Table, c, sev, shift)
	for ch, table := range c.ChannelTables {
		if reg, ok := table.Lookup(sev, shift); ok {
			if d.Channels == nil {
				d.Channels = make(map[notify.Channel]notify.Regulation, len(c.ChannelTables))
			}
			d.Channels[ch] = reg
		}
	}
	return d
}

func (r *Resolver) lookup(t notify.TimeSeverityTable, c notify.Contact, sev notify.Severity, shift notify.Shift) notify.Regulation {
	if reg, ok := t.Lookup(sev, shift); ok {
		return reg
	}
	if reg, ok := c.DefaultTable[shift]; ok {
		return reg
	}
	r.mu.RLock()
	reg, ok := r.cfg.Fallback[shift]
	r.mu.RUnlock()
	if ok {
		return reg
	}
	if shift == notify.BusinessHours {
		return notify.Allow
	}
	return notify.Digest
}
