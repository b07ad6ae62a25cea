package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"notifyrelay/internal/notify"
)

// Telegram delivers in-app notifications as Telegram messages. The address is
// the recipient's chat id (optionally prefixed with "tg:").
type Telegram struct {
	bot *tele.Bot
}

func NewTelegram(token string, timeout time.Duration) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Offline: the relay only sends, it never polls updates.
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true, Client: newHTTPClient(timeout)})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

// ParseChatID accepts "123", "-100123" and "tg:123".
func ParseChatID(address string) (int64, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(address), "tg:")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid telegram chat id %q", address)
	}
	return id, nil
}

func (t *Telegram) Send(ctx context.Context, address string, c notify.Content) error {
	id, err := ParseChatID(address)
	if err != nil {
		return Permanent(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	text := c.Text
	if c.Subject != "" && !strings.HasPrefix(text, c.Subject) {
		text = c.Subject + "\n" + text
	}
	_, err = t.bot.Send(&tele.Chat{ID: id}, text, &tele.SendOptions{DisableWebPagePreview: true})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tele.ErrBlockedByUser), errors.Is(err, tele.ErrChatNotFound):
		return Permanent(err)
	default:
		return err
	}
}
