package config

import (
	"reflect"
	"strings"

	logx "notifyrelay/pkg/logx"
)

// SummarizeChange returns the sections that differ and safe fields for
// logging them. Secrets (api keys, tokens, passwords, broker urls) are never
// included; only whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	if !reflect.DeepEqual(oldCfg.Directory, newCfg.Directory) {
		changed = append(changed, "directory")
		attrs = append(attrs,
			logx.String("directory.driver", newCfg.Directory.Driver),
			logx.String("directory.reload", newCfg.Directory.Reload),
		)
	}
	if !reflect.DeepEqual(oldCfg.Policy, newCfg.Policy) {
		changed = append(changed, "policy")
		attrs = append(attrs,
			logx.String("policy.start", newCfg.Policy.Hours.Start),
			logx.String("policy.end", newCfg.Policy.Hours.End),
			logx.Int("policy.locales", len(newCfg.Policy.Locales)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Regulation, newCfg.Regulation) {
		changed = append(changed, "regulation")
		attrs = append(attrs,
			logx.String("regulation.suppression_window", newCfg.Regulation.SuppressionWindow),
			logx.String("regulation.digest_window", newCfg.Regulation.DigestWindow),
			logx.String("regulation.ledger", newCfg.Regulation.Ledger.Driver),
			logx.Bool("regulation.ledger_password_set", newCfg.Regulation.Ledger.Password != ""),
		)
	}
	if oldCfg.Router != newCfg.Router {
		changed = append(changed, "router")
		attrs = append(attrs, logx.Int("router.concurrency", newCfg.Router.Concurrency))
	}
	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		attrs = append(attrs, logx.String("channels.enabled", strings.Join(enabledChannels(newCfg.Channels), ",")))
	}
	if !reflect.DeepEqual(oldCfg.Audit, newCfg.Audit) {
		changed = append(changed, "audit")
		attrs = append(attrs,
			logx.Bool("audit.enabled", newCfg.Audit.Enabled),
			logx.Bool("audit.kafka", newCfg.Audit.Kafka != nil),
		)
	}
	if !reflect.DeepEqual(oldCfg.Intake, newCfg.Intake) {
		changed = append(changed, "intake")
		if newCfg.Intake != nil {
			attrs = append(attrs,
				logx.Bool("intake.enabled", newCfg.Intake.Enabled),
				logx.String("intake.queue", newCfg.Intake.Queue),
			)
		}
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled), logx.String("metrics.addr", newCfg.Metrics.Addr), logx.Bool("metrics.pprof", newCfg.Metrics.Pprof))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.sweep", newCfg.Scheduler.Sweep),
		)
	}
	return changed, attrs
}

func enabledChannels(c ChannelsConfig) []string {
	var out []string
	if c.Email != nil {
		out = append(out, "email:"+c.Email.Driver)
	}
	if c.SMS != nil {
		out = append(out, "sms:"+c.SMS.Driver)
	}
	if c.Voice != nil {
		out = append(out, "voice:"+c.Voice.Driver)
	}
	if c.InApp != nil {
		out = append(out, "inapp:"+c.InApp.Driver)
	}
	return out
}

// RestartRequired lists changed sections that only take effect after a
// restart. Regulation windows apply live; its ledger settings do not.
func RestartRequired(oldCfg, newCfg *Config, changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "policy", "router":
		case "regulation":
			if oldCfg != nil && newCfg != nil &&
				(oldCfg.Regulation.Ledger != newCfg.Regulation.Ledger ||
					oldCfg.Regulation.MaxSuppressionEntries != newCfg.Regulation.MaxSuppressionEntries) {
				out = append(out, s)
			}
		default:
			out = append(out, s)
		}
	}
	return out
}
