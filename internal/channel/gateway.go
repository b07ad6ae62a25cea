package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"notifyrelay/internal/notify"
)

// Gateway posts SMS and voice requests to an HTTP provider gateway as JSON:
//
//	{"channel":"sms","to":"+15551234","subject":"...","text":"..."}
//
// 2xx is success, 429 honours Retry-After, other 4xx are permanent, 5xx retry.
type Gateway struct {
	ch       notify.Channel
	endpoint string
	token    string
	client   *http.Client
}

func NewGateway(ch notify.Channel, endpoint, token string, timeout time.Duration) (*Gateway, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%s gateway endpoint is empty", ch)
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Gateway{ch: ch, endpoint: endpoint, token: token, client: newHTTPClient(timeout)}, nil
}

type gatewayRequest struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text"`
}

func (g *Gateway) Send(ctx context.Context, address string, c notify.Content) error {
	if strings.TrimSpace(address) == "" {
		return Permanent(fmt.Errorf("empty %s address", g.ch))
	}
	body, err := json.Marshal(gatewayRequest{Channel: string(g.ch), To: address, Subject: c.Subject, Text: c.Text})
	if err != nil {
		return Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("gateway throttled: %s", strings.TrimSpace(string(msg)))
		if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil {
			return RetryAfter(err, time.Duration(secs)*time.Second)
		}
		return err
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Permanent(fmt.Errorf("gateway rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	default:
		return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}
