package notify

import (
	"fmt"
	"strings"
	"time"
)

// Message is an inbound notification request. Treat it as immutable once built.
type Message struct {
	ID         string            `json:"id,omitempty"`
	Subject    string            `json:"subject"`
	Payload    Payload           `json:"payload"`
	Severity   Severity          `json:"severity"`
	Target     Target            `json:"target"`
	Regulation RegulationRequest `json:"regulation,omitempty"`
	Creator    string            `json:"creator,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
}

// Payload holds the optional per-channel bodies. At least one must be set.
type Payload struct {
	EmailText string `json:"email_text,omitempty"`
	EmailHTML string `json:"email_html,omitempty"`
	SMSText   string `json:"sms_text,omitempty"`
	VoiceText string `json:"voice_text,omitempty"`
	InAppText string `json:"inapp_text,omitempty"`
}

// Content is what a channel sender delivers.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

// For returns the content for ch, and false if the payload has nothing for it.
func (p Payload) For(subject string, ch Channel) (Content, bool) {
	switch ch {
	case ChannelEmail:
		if p.EmailText == "" && p.EmailHTML == "" {
			return Content{}, false
		}
		return Content{Subject: subject, Text: p.EmailText, HTML: p.EmailHTML}, true
	case ChannelSMS:
		if p.SMSText == "" {
			return Content{}, false
		}
		return Content{Subject: subject, Text: p.SMSText}, true
	case ChannelVoice:
		if p.VoiceText == "" {
			return Content{}, false
		}
		return Content{Subject: subject, Text: p.VoiceText}, true
	case ChannelInApp:
		if p.InAppText == "" {
			return Content{}, false
		}
		return Content{Subject: subject, Text: p.InAppText}, true
	}
	return Content{}, false
}

func (p Payload) Empty() bool {
	for _, ch := range Channels {
		if _, ok := p.For("", ch); ok {
			return false
		}
	}
	return true
}

// Target names exactly one of: a contact, a group, or a list of groups.
type Target struct {
	ContactID string   `json:"contact_id,omitempty"`
	GroupID   string   `json:"group_id,omitempty"`
	GroupIDs  []string `json:"group_ids,omitempty"`
}

func (t Target) set() int {
	n := 0
	if strings.TrimSpace(t.ContactID) != "" {
		n++
	}
	if strings.TrimSpace(t.GroupID) != "" {
		n++
	}
	if len(t.GroupIDs) > 0 {
		n++
	}
	return n
}

// RegulationRequest carries the per-message regulation flags.
// Nil numeric fields fall back to the router defaults.
type RegulationRequest struct {
	WantSuppression bool `json:"want_suppression,omitempty"`
	// SuppressionWindow is in whole minutes; <= 0 disables suppression.
	SuppressionWindow *int `json:"suppression_window,omitempty"`
	WantDigest        bool `json:"want_digest,omitempty"`
	// DigestWindow is in whole minutes; <= 0 makes the digest emit immediately.
	DigestWindow    *int `json:"digest_window,omitempty"`
	DigestHeadCount *int `json:"digest_head_count,omitempty"`
	DigestTailCount *int `json:"digest_tail_count,omitempty"`
}

// Requested maps the flags onto the regulation order.
func (r RegulationRequest) Requested() Regulation {
	switch {
	case r.WantDigest && r.WantSuppression:
		return DigestAndSuppress
	case r.WantDigest:
		return Digest
	case r.WantSuppression:
		return Suppress
	default:
		return Allow
	}
}

// Int returns a pointer to n, for filling RegulationRequest literals.
func Int(n int) *int { return &n }

// IntOr dereferences p, falling back to def when p is nil.
func IntOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Validate rejects malformed messages. The returned error wraps ErrInvalidRequest.
func (m Message) Validate() error {
	switch n := m.Target.set(); {
	case n == 0:
		return fmt.Errorf("%w: no target set", ErrInvalidRequest)
	case n > 1:
		return fmt.Errorf("%w: target must name exactly one of contact, group or groups", ErrInvalidRequest)
	}
	for _, g := range m.Target.GroupIDs {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("%w: empty group id in target", ErrInvalidRequest)
		}
	}
	if m.Payload.Empty() {
		return fmt.Errorf("%w: no channel payload set", ErrInvalidRequest)
	}
	return nil
}
