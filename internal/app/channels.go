package app

import (
	"fmt"
	"strings"
	"time"

	"notifyrelay/internal/channel"
	"notifyrelay/internal/config"
	"notifyrelay/internal/eventbus"
	"notifyrelay/internal/notify"
	logx "notifyrelay/pkg/logx"
)

// buildChannels registers one resilient sender per configured channel.
// Channels without a section have no sender; their units fail.
func buildChannels(cfg *config.Config, bus eventbus.Bus, obs channel.Observer, log logx.Logger) (*channel.Registry, *channel.Inbox, error) {
	pol, err := mapRetry(cfg.Channels.Retry)
	if err != nil {
		return nil, nil, err
	}
	reg := channel.NewRegistry()
	var inbox *channel.Inbox
	add := func(ch notify.Channel, s channel.Sender) {
		clog := log.With(logx.String("channel", string(ch)))
		reg.Register(ch, channel.NewResilient(ch, s, pol, obs, clog))
		clog.Info("channel enabled")
	}

	if ec := cfg.Channels.Email; ec != nil {
		switch strings.ToLower(ec.Driver) {
		case "resend":
			s, err := channel.NewResend(ec.APIKey, ec.From, ec.Redirect)
			if err != nil {
				return nil, nil, fmt.Errorf("channels.email: %w", err)
			}
			add(notify.ChannelEmail, s)
		default:
			add(notify.ChannelEmail, channel.Log{Channel: notify.ChannelEmail, Log: log})
		}
	}

	gateways := []struct {
		ch  notify.Channel
		cfg *config.GatewayConfig
	}{
		{notify.ChannelSMS, cfg.Channels.SMS},
		{notify.ChannelVoice, cfg.Channels.Voice},
	}
	for _, g := range gateways {
		if g.cfg == nil {
			continue
		}
		if !strings.EqualFold(g.cfg.Driver, "gateway") {
			add(g.ch, channel.Log{Channel: g.ch, Log: log})
			continue
		}
		timeout, err := config.ParseDurationOrDefault("channels."+string(g.ch)+".timeout", g.cfg.Timeout, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		s, err := channel.NewGateway(g.ch, g.cfg.Endpoint, g.cfg.Token, timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("channels.%s: %w", g.ch, err)
		}
		add(g.ch, s)
	}

	if ic := cfg.Channels.InApp; ic != nil {
		switch strings.ToLower(ic.Driver) {
		case "telegram":
			timeout, err := config.ParseDurationOrDefault("channels.inapp.timeout", ic.Timeout, 10*time.Second)
			if err != nil {
				return nil, nil, err
			}
			s, err := channel.NewTelegram(ic.TelegramToken, timeout)
			if err != nil {
				return nil, nil, fmt.Errorf("channels.inapp: %w", err)
			}
			add(notify.ChannelInApp, s)
		case "inbox":
			inbox = channel.NewInbox(ic.Limit, bus)
			add(notify.ChannelInApp, inbox)
		default:
			add(notify.ChannelInApp, channel.Log{Channel: notify.ChannelInApp, Log: log})
		}
	}
	return reg, inbox, nil
}
