package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"

	"notifyrelay/internal/notify"
)

// Resend sends email through the Resend API.
type Resend struct {
	client *resend.Client
	from   string
	// redirect, when set, receives every email instead of the real recipient.
	redirect string
}

func NewResend(apiKey, from, redirect string) (*Resend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("resend api key is empty")
	}
	if strings.TrimSpace(from) == "" {
		from = "onboarding@resend.dev"
	}
	return &Resend{client: resend.NewClient(apiKey), from: from, redirect: strings.TrimSpace(redirect)}, nil
}

func (s *Resend) Send(ctx context.Context, address string, c notify.Content) error {
	if !strings.Contains(address, "@") {
		return Permanent(fmt.Errorf("invalid email address %q", address))
	}
	to, subject := address, c.Subject
	if s.redirect != "" {
		to = s.redirect
		subject = fmt.Sprintf("[redirect] %s (to %s)", subject, address)
	}
	req := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    c.HTML,
		Text:    c.Text,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}
