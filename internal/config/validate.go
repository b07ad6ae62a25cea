package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	storageDrivers   = []string{"", "none", "file", "sqlite", "sqlite3"}
	directoryDrivers = []string{"", "file", "sqlite"}
	ledgerDrivers    = []string{"", "none", "memory", "storage", "redis"}
	emailDrivers     = []string{"resend", "log"}
	gatewayDrivers   = []string{"gateway", "log"}
	inappDrivers     = []string{"inbox", "telegram", "log"}
	logFormats       = []string{"", "console", "json"}
)

// Validate checks the structure of cfg: known drivers, parseable durations
// and required fields for enabled sections. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	oneOf := func(path, v string, allowed []string) {
		v = strings.ToLower(strings.TrimSpace(v))
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		add(fmt.Errorf("%s: unknown driver %q", path, v))
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	oneOf("logging.format", cfg.Logging.Format, logFormats)

	if cfg.Storage != nil {
		oneOf("storage.driver", cfg.Storage.Driver, storageDrivers)
		dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	}

	oneOf("directory.driver", cfg.Directory.Driver, directoryDrivers)
	if strings.TrimSpace(cfg.Directory.Path) == "" {
		add(errors.New("directory.path: required"))
	}

	r := cfg.Regulation
	dur("regulation.suppression_window", r.SuppressionWindow)
	dur("regulation.digest_window", r.DigestWindow)
	if r.DigestHead != nil && *r.DigestHead < 0 {
		add(errors.New("regulation.digest_head: must be >= 0"))
	}
	if r.DigestTail != nil && *r.DigestTail < 0 {
		add(errors.New("regulation.digest_tail: must be >= 0"))
	}
	oneOf("regulation.ledger.driver", r.Ledger.Driver, ledgerDrivers)
	if strings.EqualFold(r.Ledger.Driver, "redis") && strings.TrimSpace(r.Ledger.Addr) == "" {
		add(errors.New("regulation.ledger.addr: required for redis"))
	}
	if strings.EqualFold(r.Ledger.Driver, "storage") && cfg.Storage == nil {
		add(errors.New("regulation.ledger: driver storage needs a storage section"))
	}

	ch := cfg.Channels
	dur("channels.retry.retry_base", ch.Retry.RetryBase)
	dur("channels.retry.retry_max", ch.Retry.RetryMax)
	dur("channels.retry.timeout", ch.Retry.Timeout)
	dur("channels.retry.circuit_cooldown", ch.Retry.CircuitCooldown)
	dur("channels.retry.circuit_max_cooldown", ch.Retry.CircuitMaxCooldown)
	if ch.Email != nil {
		oneOf("channels.email.driver", ch.Email.Driver, emailDrivers)
		if strings.EqualFold(ch.Email.Driver, "resend") && (ch.Email.APIKey == "" || ch.Email.From == "") {
			add(errors.New("channels.email: api_key and from are required for resend"))
		}
	}
	for name, g := range map[string]*GatewayConfig{"sms": ch.SMS, "voice": ch.Voice} {
		if g == nil {
			continue
		}
		oneOf("channels."+name+".driver", g.Driver, gatewayDrivers)
		dur("channels."+name+".timeout", g.Timeout)
		if strings.EqualFold(g.Driver, "gateway") && strings.TrimSpace(g.Endpoint) == "" {
			add(fmt.Errorf("channels.%s.endpoint: required for gateway", name))
		}
	}
	if ch.InApp != nil {
		oneOf("channels.inapp.driver", ch.InApp.Driver, inappDrivers)
		dur("channels.inapp.timeout", ch.InApp.Timeout)
		if strings.EqualFold(ch.InApp.Driver, "telegram") && ch.InApp.TelegramToken == "" {
			add(errors.New("channels.inapp.telegram_token: required for telegram"))
		}
	}

	if k := cfg.Audit.Kafka; k != nil && (len(k.Brokers) == 0 || strings.TrimSpace(k.Topic) == "") {
		add(errors.New("audit.kafka: brokers and topic are required"))
	}

	if in := cfg.Intake; in != nil && in.Enabled {
		if strings.TrimSpace(in.URL) == "" {
			add(errors.New("intake.url: required when enabled"))
		}
		dur("intake.handle_timeout", in.HandleTimeout)
	}
	return errors.Join(errs...)
}
