package notify

import (
	"strconv"
	"strings"
)

// Signature identifies "the same kind of notification to the same person".
type Signature struct {
	Subject   string
	Creator   string
	UserRef   string
	ContactID string
}

// SignatureOf derives the grouping signature of m delivered to c.
func SignatureOf(m Message, c Contact) Signature {
	creator := strings.TrimSpace(m.Creator)
	if creator == "" {
		creator = "none"
	}
	return Signature{Subject: m.Subject, Creator: creator, UserRef: c.UserRef, ContactID: c.ID}
}

// Key is the length-prefixed join of the signature fields, so distinct
// signatures never share a key.
func (s Signature) Key() string {
	var b strings.Builder
	for i, part := range []string{s.Subject, s.Creator, s.UserRef, s.ContactID} {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// Unit is one (message, contact, channel) flowing through regulation.
type Unit struct {
	Message    Message
	Contact    Contact
	Channel    Channel
	Address    string
	Content    Content
	Signature  Signature
	Regulation Regulation
}

// NewUnit builds the unit for m on ch, reporting false when m has no payload for ch.
func NewUnit(m Message, c Contact, ch Channel) (Unit, bool) {
	content, ok := m.Payload.For(m.Subject, ch)
	if !ok {
		return Unit{}, false
	}
	return Unit{
		Message:   m,
		Contact:   c,
		Channel:   ch,
		Address:   c.Address(ch),
		Content:   content,
		Signature: SignatureOf(m, c),
	}, true
}

// Key scopes the signature to the unit's channel; regulation state is kept per key.
func (u Unit) Key() string {
	return string(u.Channel) + ":" + u.Signature.Key()
}
