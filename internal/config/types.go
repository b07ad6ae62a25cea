package config

// Config is the relay's file configuration. Durations are Go duration
// strings ("500ms", "10s", "30m"); empty means the component default.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Directory  DirectoryConfig  `json:"directory"`
	Policy     PolicyConfig     `json:"policy"`
	Regulation RegulationConfig `json:"regulation"`
	Router     RouterConfig     `json:"router"`
	Channels   ChannelsConfig   `json:"channels"`
	Audit      AuditConfig      `json:"audit"`
	Intake     *IntakeConfig    `json:"intake,omitempty"`
	Metrics    MetricsConfig    `json:"metrics"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format,omitempty"` // console|json
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	// DebugBurst samples per-unit debug lines under load; 0 logs all.
	DebugBurst uint32 `json:"debug_burst,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer used for audit
// records and suppression claims.
//
// Example:
//
//	storage: { driver: sqlite, path: ./notifyrelay.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DirectoryConfig selects where contacts and groups come from.
//
//   - driver "file": path is a JSON or YAML seed, watched via the reload schedule.
//   - driver "sqlite": path is the database; seed (optional) is imported on start.
type DirectoryConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	Seed   string `json:"seed,omitempty"`
	// Reload is a schedule ("5m", "@every 1m"); empty disables periodic reloads.
	Reload string `json:"reload,omitempty"`
}

// HoursConfig describes business hours as "HH:MM" bounds and weekday names.
type HoursConfig struct {
	Start string   `json:"start"`
	End   string   `json:"end"`
	Days  []string `json:"days,omitempty"`
}

type PolicyConfig struct {
	Hours HoursConfig `json:"hours"`
	// Locales override Hours for contacts with a matching locale.
	Locales map[string]HoursConfig `json:"locales,omitempty"`
	// Fallback maps shift name to regulation name when a contact has no table entry.
	Fallback map[string]string `json:"fallback,omitempty"`
}

type RegulationConfig struct {
	SuppressionWindow     string       `json:"suppression_window,omitempty"`
	DigestWindow          string       `json:"digest_window,omitempty"`
	DigestHead            *int         `json:"digest_head,omitempty"`
	DigestTail            *int         `json:"digest_tail,omitempty"`
	MaxSuppressionEntries int          `json:"max_suppression_entries,omitempty"`
	Ledger                LedgerConfig `json:"ledger"`
}

// LedgerConfig selects the cross-process suppression claim store.
// Driver is one of "" (none), "memory", "storage" or "redis".
type LedgerConfig struct {
	Driver   string `json:"driver,omitempty"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type RouterConfig struct {
	Concurrency int `json:"concurrency,omitempty"`
}

type ChannelsConfig struct {
	Retry RetryConfig    `json:"retry"`
	Email *EmailConfig   `json:"email,omitempty"`
	SMS   *GatewayConfig `json:"sms,omitempty"`
	Voice *GatewayConfig `json:"voice,omitempty"`
	InApp *InAppConfig   `json:"inapp,omitempty"`
}

// RetryConfig applies to every channel sender.
type RetryConfig struct {
	MaxAttempts        int     `json:"max_attempts,omitempty"`
	RetryBase          string  `json:"retry_base,omitempty"`
	RetryMax           string  `json:"retry_max,omitempty"`
	Timeout            string  `json:"timeout,omitempty"`
	RatePerSec         float64 `json:"rate_per_sec,omitempty"`
	Burst              int     `json:"burst,omitempty"`
	CircuitTrip        int     `json:"circuit_trip,omitempty"`
	CircuitCooldown    string  `json:"circuit_cooldown,omitempty"`
	CircuitMaxCooldown string  `json:"circuit_max_cooldown,omitempty"`
}

// EmailConfig: driver "resend" or "log".
type EmailConfig struct {
	Driver string `json:"driver"`
	APIKey string `json:"api_key,omitempty"` // do not log
	From   string `json:"from,omitempty"`
	// Redirect sends every email to this address instead (staging).
	Redirect string `json:"redirect,omitempty"`
}

// GatewayConfig: driver "gateway" (HTTP JSON provider) or "log".
type GatewayConfig struct {
	Driver   string `json:"driver"`
	Endpoint string `json:"endpoint,omitempty"`
	Token    string `json:"token,omitempty"` // do not log
	Timeout  string `json:"timeout,omitempty"`
}

// InAppConfig: driver "inbox" (in-process), "telegram" or "log".
type InAppConfig struct {
	Driver        string `json:"driver"`
	Limit         int    `json:"limit,omitempty"`
	TelegramToken string `json:"telegram_token,omitempty"` // do not log
	Timeout       string `json:"timeout,omitempty"`
}

type AuditConfig struct {
	Enabled   bool         `json:"enabled"`
	QueueSize int          `json:"queue_size,omitempty"`
	Kafka     *KafkaConfig `json:"kafka,omitempty"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type IntakeConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"` // may carry credentials; do not log
	Queue         string `json:"queue,omitempty"`
	Prefetch      int    `json:"prefetch,omitempty"`
	HandleTimeout string `json:"handle_timeout,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":9464"
	// Pprof mounts /debug/pprof/ on the same listener. Keep Addr on loopback when set.
	Pprof bool `json:"pprof,omitempty"`
}

// SchedulerConfig controls the maintenance jobs.
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
	// Sweep emits closed digests; default "@every 10s".
	Sweep string `json:"sweep,omitempty"`
	// Reap drops expired suppression windows; default "@every 1m".
	Reap string `json:"reap,omitempty"`
}
