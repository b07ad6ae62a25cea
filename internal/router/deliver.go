package router

import (
	"context"

	"notifyrelay/internal/digest"
	"notifyrelay/internal/eventbus"
	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

// deliver is the single send path for direct and suppression-representative units.
func (r *Router) deliver(ctx context.Context, u notify.Unit) error {
	err := r.senders.Send(ctx, u.Channel, u.Address, u.Content)
	e := notify.AuditEntry{
		Kind:         notify.AuditDelivery,
		MessageID:    u.Message.ID,
		Subject:      u.Message.Subject,
		ContactID:    u.Contact.ID,
		Channel:      u.Channel,
		Address:      u.Address,
		Regulation:   u.Regulation,
		Status:       notify.StatusSent,
		SignatureKey: u.Signature.Key(),
	}
	if err != nil {
		e.Status, e.Error = notify.StatusFailed, err.Error()
		r.log.Warn("delivery failed",
			logx.String("message_id", u.Message.ID), logx.String("contact", u.Contact.ID),
			logx.String("channel", string(u.Channel)), logx.Err(err))
	}
	r.audit.RecordAudit(ctx, e)
	return err
}

// emitDigest sends a closed digest to its recipient.
func (r *Router) emitDigest(ctx context.Context, d digest.Digest) error {
	err := r.senders.Send(ctx, d.Channel, d.Address, d.Content)
	reg := notify.Digest
	if d.Suppressed {
		reg = notify.DigestAndSuppress
	}
	e := notify.AuditEntry{
		Kind:         notify.AuditDigest,
		Subject:      d.Subject,
		ContactID:    d.Contact.ID,
		Channel:      d.Channel,
		Address:      d.Address,
		Regulation:   reg,
		Status:       notify.StatusSent,
		SignatureKey: d.Signature.Key(),
		DigestID:     d.ID,
	}
	data := eventbus.DigestData{DigestID: d.ID, Key: d.Key, Channel: string(d.Channel), Total: d.Total, Elided: d.Elided}
	if err != nil {
		e.Status, e.Error = notify.StatusFailed, err.Error()
		data.Err = err.Error()
	}
	r.audit.RecordAudit(ctx, e)
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeDigest, Data: data})
	r.obs.ObserveDigest(d.Total, err)
	return err
}
