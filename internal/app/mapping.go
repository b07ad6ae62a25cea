package app

import (
	"fmt"
	"strings"
	"time"

	"notifyrelay/internal/channel"
	"notifyrelay/internal/config"
	"notifyrelay/internal/digest"
	"notifyrelay/internal/notify"
	"notifyrelay/internal/policy"
	"notifyrelay/internal/router"
	"notifyrelay/internal/storage"
	logx "notifyrelay/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Console:    cfg.Logging.Console,
		DebugBurst: cfg.Logging.DebugBurst,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapHours(path string, h config.HoursConfig) (policy.BusinessHours, error) {
	var out policy.BusinessHours
	if strings.TrimSpace(h.Start) == "" && strings.TrimSpace(h.End) == "" && len(h.Days) == 0 {
		return policy.DefaultHours, nil
	}
	var err error
	if out.Start, err = policy.ParseClock(h.Start); err != nil {
		return out, fmt.Errorf("%s.start: %w", path, err)
	}
	if out.End, err = policy.ParseClock(h.End); err != nil {
		return out, fmt.Errorf("%s.end: %w", path, err)
	}
	for _, d := range h.Days {
		wd, err := policy.ParseWeekday(d)
		if err != nil {
			return out, fmt.Errorf("%s.days: %w", path, err)
		}
		out.Days = append(out.Days, wd)
	}
	return out, nil
}

func mapPolicy(cfg *config.Config) (policy.Config, error) {
	var out policy.Config
	var err error
	if out.Hours, err = mapHours("policy.hours", cfg.Policy.Hours); err != nil {
		return out, err
	}
	if len(cfg.Policy.Locales) > 0 {
		out.Locales = make(map[string]policy.BusinessHours, len(cfg.Policy.Locales))
		for name, h := range cfg.Policy.Locales {
			bh, err := mapHours("policy.locales."+name, h)
			if err != nil {
				return out, err
			}
			out.Locales[name] = bh
		}
	}
	if len(cfg.Policy.Fallback) > 0 {
		out.Fallback = make(notify.ShiftTable, len(cfg.Policy.Fallback))
		for shiftName, regName := range cfg.Policy.Fallback {
			var sh notify.Shift
			if err := sh.UnmarshalText([]byte(shiftName)); err != nil {
				return out, fmt.Errorf("policy.fallback: %w", err)
			}
			reg, err := notify.ParseRegulation(regName)
			if err != nil {
				return out, fmt.Errorf("policy.fallback.%s: %w", shiftName, err)
			}
			out.Fallback[sh] = reg
		}
	}
	return out, nil
}

func mapRouter(cfg *config.Config) (router.Config, error) {
	r := cfg.Regulation
	sw, err := config.ParseDurationOrDefault("regulation.suppression_window", r.SuppressionWindow, 60*time.Minute)
	if err != nil {
		return router.Config{}, err
	}
	dw, err := config.ParseDurationOrDefault("regulation.digest_window", r.DigestWindow, 30*time.Minute)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{
		SuppressionWindow: sw,
		DigestWindow:      dw,
		DigestHead:        notify.IntOr(r.DigestHead, digest.DefaultKeep),
		DigestTail:        notify.IntOr(r.DigestTail, digest.DefaultKeep),
		Concurrency:       cfg.Router.Concurrency,
	}, nil
}

func mapRetry(rc config.RetryConfig) (channel.Policy, error) {
	p := channel.Policy{
		MaxAttempts: rc.MaxAttempts,
		RatePerSec:  rc.RatePerSec,
		Burst:       rc.Burst,
		CircuitTrip: rc.CircuitTrip,
	}
	var err error
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"channels.retry.retry_base", rc.RetryBase, &p.RetryBase},
		{"channels.retry.retry_max", rc.RetryMax, &p.RetryMax},
		{"channels.retry.timeout", rc.Timeout, &p.Timeout},
		{"channels.retry.circuit_cooldown", rc.CircuitCooldown, &p.CircuitCooldown},
		{"channels.retry.circuit_max_cooldown", rc.CircuitMaxCooldown, &p.CircuitMaxCooldown},
	}
	for _, f := range fields {
		if *f.dst, err = config.ParseDurationField(f.path, f.raw); err != nil {
			return channel.Policy{}, err
		}
	}
	return p, nil
}

// validate checks what config.Validate cannot without the component packages.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapPolicy(cfg); err != nil {
		return err
	}
	if _, err := mapRouter(cfg); err != nil {
		return err
	}
	if _, err := mapRetry(cfg.Channels.Retry); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
