// Package intake accepts notification requests from a RabbitMQ queue and
// hands them to the router. Malformed or unroutable requests are
// dead-lettered; transient failures are requeued once.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

// Verdict is what the consumer does with a delivery after handling it.
type Verdict int

const (
	Ack Verdict = iota
	// Reject nacks without requeue, routing the message to the dead-letter queue.
	Reject
	Requeue
)

func (v Verdict) String() string {
	switch v {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	}
	return "unknown"
}

type Notifier interface {
	Notify(ctx context.Context, m notify.Message) (notify.Summary, error)
}

type Observer interface {
	ObserveIntake(result string)
}

type Handler struct {
	Notifier Notifier
	Observer Observer
	Log      logx.Logger
}

// Decode parses a JSON request body; unknown fields are rejected.
func Decode(body []byte) (notify.Message, error) {
	var m notify.Message
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return notify.Message{}, fmt.Errorf("%w: %v", notify.ErrInvalidRequest, err)
	}
	if dec.More() {
		return notify.Message{}, fmt.Errorf("%w: trailing data after message", notify.ErrInvalidRequest)
	}
	return m, nil
}

// Handle routes one delivery body. redelivered is the broker's redelivery flag.
func (h Handler) Handle(ctx context.Context, body []byte, redelivered bool) Verdict {
	v, err := h.handle(ctx, body, redelivered)
	if h.Observer != nil {
		h.Observer.ObserveIntake(v.String())
	}
	if err != nil {
		lvl := h.Log.Warn
		if v == Requeue {
			lvl = h.Log.Info
		}
		lvl("intake message not accepted", logx.String("verdict", v.String()), logx.Bool("redelivered", redelivered), logx.Err(err))
	}
	return v
}

func (h Handler) handle(ctx context.Context, body []byte, redelivered bool) (Verdict, error) {
	m, err := Decode(body)
	if err != nil {
		return Reject, err
	}
	sum, err := h.Notifier.Notify(ctx, m)
	switch {
	case err == nil:
		h.Log.Debug("intake message routed",
			logx.String("message_id", sum.MessageID),
			logx.Int("outcomes", len(sum.Outcomes)),
			logx.Int("delivered", sum.Delivered()))
		return Ack, nil
	case errors.Is(err, notify.ErrInvalidRequest), errors.Is(err, notify.ErrNotFound):
		return Reject, err
	case redelivered:
		// Second failure: park it in the dead-letter queue.
		return Reject, err
	default:
		return Requeue, err
	}
}
