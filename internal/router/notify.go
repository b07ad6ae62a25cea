package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notifyrelay/internal/eventbus"
	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

// Notify fans m out to every active contact it targets and every channel the
// payload covers, and reports one outcome per (contact, channel).
//
// It returns notify.ErrInvalidRequest for malformed messages,
// notify.ErrNotFound when no active contact is targeted, and
// notify.ErrDeliveryFailed when units failed and none was delivered. Partial
// failure returns the summary with a nil error.
func (r *Router) Notify(ctx context.Context, m notify.Message) (notify.Summary, error) {
	sum, err := r.notify(ctx, m)
	r.obs.ObserveRequest(err)
	return sum, err
}

func (r *Router) notify(ctx context.Context, m notify.Message) (notify.Summary, error) {
	if err := m.Validate(); err != nil {
		return notify.Summary{}, err
	}
	now := r.clk.Now()
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	sum := notify.Summary{MessageID: m.ID}
	log := r.log.With(logx.String("message_id", m.ID))

	contacts, err := r.resolveTargets(ctx, m.Target, log)
	if err != nil {
		return sum, err
	}
	if len(contacts) == 0 {
		return sum, fmt.Errorf("%w: no active contact for message %s", notify.ErrNotFound, m.ID)
	}

	cfg := r.config()
	requested := m.Regulation.Requested()
	var units []notify.Unit
	for _, c := range contacts {
		decision := r.policy.Resolve(c, m.Severity, now)
		for _, ch := range notify.Channels {
			u, ok := notify.NewUnit(m, c, ch)
			if !ok {
				continue
			}
			u.Regulation = notify.MaxRegulation(requested, decision.For(ch))
			if u.Address == "" {
				out := notify.Outcome{ContactID: c.ID, Channel: ch, Regulation: u.Regulation, Status: notify.StatusSkipped, Reason: "no address"}
				r.record(ctx, u, out)
				sum.Outcomes = append(sum.Outcomes, out)
				continue
			}
			log.Debug("unit regulated",
				logx.String("contact", c.ID), logx.String("channel", string(ch)),
				logx.Stringer("shift", decision.Shift), logx.Stringer("regulation", u.Regulation))
			units = append(units, u)
		}
	}

	sum.Outcomes = append(sum.Outcomes, r.dispatchAll(ctx, units, cfg, now)...)

	if sum.Delivered() == 0 && sum.Count(notify.StatusFailed) > 0 {
		first, _ := firstFailure(sum)
		return sum, wrapReason(notify.ErrDeliveryFailed, first)
	}
	return sum, nil
}

func firstFailure(s notify.Summary) (string, bool) {
	for _, o := range s.Outcomes {
		if o.Status == notify.StatusFailed {
			return o.Reason, true
		}
	}
	return "", false
}

// resolveTargets returns the active contacts in target order, each at most once.
// Unknown groups and contacts are skipped; other directory errors abort.
func (r *Router) resolveTargets(ctx context.Context, t notify.Target, log logx.Logger) ([]notify.Contact, error) {
	var ids []string
	switch {
	case t.ContactID != "":
		ids = []string{t.ContactID}
	default:
		groups := t.GroupIDs
		if t.GroupID != "" {
			groups = []string{t.GroupID}
		}
		for _, g := range groups {
			members, err := r.dir.GetActiveGroupMembers(ctx, g)
			if errors.Is(err, notify.ErrNotFound) {
				log.Warn("unknown group", logx.String("group", g))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("group %s: %w", g, err)
			}
			ids = append(ids, members...)
		}
	}

	seen := make(map[string]bool, len(ids))
	out := make([]notify.Contact, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		c, err := r.dir.GetContact(ctx, id)
		if errors.Is(err, notify.ErrNotFound) {
			log.Warn("unknown contact", logx.String("contact", id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("contact %s: %w", id, err)
		}
		if !c.Active {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// dispatchAll runs units concurrently; outcomes keep the order of units.
// Units not started before ctx ends fail with reason "canceled".
func (r *Router) dispatchAll(ctx context.Context, units []notify.Unit, cfg Config, now time.Time) []notify.Outcome {
	outs := make([]notify.Outcome, len(units))
	g := newGroup(cfg.Concurrency)
	for i, u := range units {
		if ctx.Err() != nil {
			outs[i] = notify.Outcome{ContactID: u.Contact.ID, Channel: u.Channel, Regulation: u.Regulation, Status: notify.StatusFailed, Reason: "canceled", Err: ctx.Err()}
			r.record(ctx, u, outs[i])
			continue
		}
		i, u := i, u
		g.Go(func() error {
			outs[i] = r.dispatch(ctx, u, cfg, now)
			r.record(ctx, u, outs[i])
			return nil
		})
	}
	_ = g.Wait()
	return outs
}

func (r *Router) dispatch(ctx context.Context, u notify.Unit, cfg Config, now time.Time) notify.Outcome {
	req := u.Message.Regulation
	switch u.Regulation {
	case notify.Allow:
		out := notify.Outcome{ContactID: u.Contact.ID, Channel: u.Channel, Regulation: u.Regulation, Status: notify.StatusSent}
		if err := r.deliver(ctx, u); err != nil {
			out.Status, out.Err, out.Reason = notify.StatusFailed, err, err.Error()
		}
		return out
	case notify.Suppress:
		window := minutesOr(req.SuppressionWindow, cfg.SuppressionWindow)
		return r.suppress.MaybeSuppress(ctx, u, window)
	case notify.Digest, notify.DigestAndSuppress:
		window := minutesOr(req.DigestWindow, cfg.DigestWindow)
		closeAt := now
		if window > 0 {
			closeAt = now.Add(window)
		}
		head := notify.IntOr(req.DigestHeadCount, cfg.DigestHead)
		tail := notify.IntOr(req.DigestTailCount, cfg.DigestTail)
		return r.digest.ConsolidateIntoDigest(ctx, u, closeAt, head, tail)
	default:
		err := fmt.Errorf("%w: unknown regulation %d", notify.ErrRegulationState, int(u.Regulation))
		r.log.Error("unit dropped", logx.String("contact", u.Contact.ID), logx.Err(err))
		return notify.Outcome{ContactID: u.Contact.ID, Channel: u.Channel, Regulation: u.Regulation, Status: notify.StatusFailed, Reason: err.Error(), Err: err}
	}
}

// record emits the decision audit entry, bus event and metrics for one outcome.
func (r *Router) record(ctx context.Context, u notify.Unit, out notify.Outcome) {
	r.audit.RecordAudit(ctx, notify.AuditEntry{
		Kind:         notify.AuditDecision,
		MessageID:    u.Message.ID,
		Subject:      u.Message.Subject,
		ContactID:    out.ContactID,
		Channel:      out.Channel,
		Address:      u.Address,
		Regulation:   out.Regulation,
		Status:       out.Status,
		SignatureKey: u.Signature.Key(),
		Error:        out.Reason,
	})
	r.bus.Publish(eventbus.Event{Type: eventType(out.Status), Data: eventbus.UnitData{
		MessageID: u.Message.ID,
		ContactID: out.ContactID,
		Channel:   string(out.Channel),
		Key:       u.Key(),
		Reason:    out.Reason,
	}})
	r.obs.ObserveOutcome(out)
}

func eventType(s notify.Status) string {
	switch s {
	case notify.StatusSent:
		return eventbus.TypeSent
	case notify.StatusSuppressed:
		return eventbus.TypeSuppressed
	case notify.StatusBuffered:
		return eventbus.TypeBuffered
	case notify.StatusSkipped:
		return eventbus.TypeSkipped
	default:
		return eventbus.TypeFailed
	}
}

// minutesOr converts a per-message window in whole minutes, falling back to the
// configured duration as-is when the message leaves it unset.
func minutesOr(minutes *int, def time.Duration) time.Duration {
	if minutes == nil {
		return def
	}
	return time.Duration(*minutes) * time.Minute
}
