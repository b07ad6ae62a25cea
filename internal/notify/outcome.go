package notify

import "time"

// Status is the per-(contact, channel) result reported to the caller.
type Status string

const (
	StatusSent       Status = "sent"
	StatusSuppressed Status = "suppressed"
	StatusBuffered   Status = "buffered_for_digest"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Outcome of one unit.
type Outcome struct {
	ContactID  string     `json:"contact_id"`
	Channel    Channel    `json:"channel"`
	Regulation Regulation `json:"regulation"`
	Status     Status     `json:"status"`
	// Reason explains failed and skipped outcomes.
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// Delivered reports whether the unit was accepted by its regulation path.
func (o Outcome) Delivered() bool {
	switch o.Status {
	case StatusSent, StatusSuppressed, StatusBuffered:
		return true
	}
	return false
}

// Summary lists one outcome per (contact, channel).
type Summary struct {
	MessageID string    `json:"message_id"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (s Summary) Count(st Status) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == st {
			n++
		}
	}
	return n
}

func (s Summary) Delivered() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Delivered() {
			n++
		}
	}
	return n
}

// Find returns the outcome for a contact and channel.
func (s Summary) Find(contactID string, ch Channel) (Outcome, bool) {
	for _, o := range s.Outcomes {
		if o.ContactID == contactID && o.Channel == ch {
			return o, true
		}
	}
	return Outcome{}, false
}

// AuditKind separates routing decisions from delivery attempts.
type AuditKind string

const (
	AuditDecision AuditKind = "decision"
	AuditDelivery AuditKind = "delivery"
	AuditDigest   AuditKind = "digest"
)

// AuditEntry is appended to the audit sink. Keep it compact and schema-stable.
type AuditEntry struct {
	ID           string     `json:"id"`
	At           time.Time  `json:"at"`
	Kind         AuditKind  `json:"kind"`
	MessageID    string     `json:"message_id,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	ContactID    string     `json:"contact_id,omitempty"`
	Channel      Channel    `json:"channel,omitempty"`
	Address      string     `json:"address,omitempty"`
	Regulation   Regulation `json:"regulation"`
	Status       Status     `json:"status,omitempty"`
	SignatureKey string     `json:"signature_key,omitempty"`
	DigestID     string     `json:"digest_id,omitempty"`
	Error        string     `json:"error,omitempty"`
}
