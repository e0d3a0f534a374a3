package config

// Config is the root configuration document. The on-disk file is YAML
// (or JSON); YAML is coerced to JSON before strict decoding, so the
// json tags below are the single source of field names.
type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Logging  LoggingConfig  `json:"logging"`
	Security SecurityConfig `json:"security"`

	Storage   *StorageConfig   `json:"storage,omitempty"`
	Scheduler *SchedulerConfig `json:"scheduler,omitempty"`
	Notifier  *NotifierConfig  `json:"notifier,omitempty"`
	Club      ClubConfig       `json:"club"`
	Ops       *OpsConfig       `json:"ops,omitempty"`
}

// DiscordConfig holds gateway credentials and chat-facing defaults.
type DiscordConfig struct {
	// Token is the bot token. Required.
	Token string `json:"token"`

	// CommandPrefix triggers command parsing in guild channels. Default "!".
	CommandPrefix string `json:"command_prefix,omitempty"`

	// LogChannel receives the structured log sink output when
	// logging.discord.enabled is true.
	LogChannel string `json:"log_channel,omitempty"`

	// UpdateBuffer sizes the inbound update channel. Default 128.
	UpdateBuffer int `json:"update_buffer,omitempty"`
}

// LoggingConfig controls the zerolog pipeline.
//
// Defaults (when fields are omitted/zero):
//   - level: "info"
//   - console: false
//   - file.path: "./clubbot.log"
//   - discord.min_level: "warn"
//   - discord.rate_per_sec: 1
type LoggingConfig struct {
	Level   string           `json:"level,omitempty"`
	Console bool             `json:"console,omitempty"`
	File    LogFileConfig    `json:"file,omitempty"`
	Discord LogDiscordConfig `json:"discord,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LogDiscordConfig controls the channel log sink. The sink is rate
// limited and drops messages when the channel cannot keep up; it never
// blocks the logging hot path.
type LogDiscordConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SecurityConfig declares the guild access policy and the rate-limit
// table. Role and channel values are Discord snowflake IDs.
type SecurityConfig struct {
	// AdminRoles grant admin-level command access.
	AdminRoles []string `json:"admin_roles"`

	// MemberRoles grant member-level command access. Admin roles are
	// implicitly member-level too.
	MemberRoles []string `json:"member_roles"`

	// AllowedChannels, when non-empty, restricts every command to the
	// listed channels unless the command carries its own channel list.
	AllowedChannels []string `json:"allowed_channels,omitempty"`

	// RateLimits is the static per-command window table. The default
	// rule is required when the section is present; omitting the whole
	// section falls back to 5 per minute.
	RateLimits *RateLimitsConfig `json:"rate_limits,omitempty"`

	// EventRetention is how long security events are kept before the
	// cleanup sweep removes them. Go duration string, default "720h".
	EventRetention string `json:"event_retention,omitempty"`
}

// RateLimitsConfig is the static rate-limit table.
type RateLimitsConfig struct {
	// Default applies to any command without its own entry.
	Default *RateLimitRule `json:"default,omitempty"`

	// Commands maps command route names to their rules.
	Commands map[string]RateLimitRule `json:"commands,omitempty"`
}

// RateLimitRule is one fixed-window rule.
type RateLimitRule struct {
	// Limit is the number of invocations allowed per window. Must be > 0.
	Limit int `json:"limit"`

	// Window is the window length as a Go duration string, e.g. "1m".
	Window string `json:"window"`
}

// StorageConfig selects the event store backend.
//
// Defaults (when fields are omitted/zero):
//   - driver: "sqlite"
//   - path: "./clubbot.db"
//   - busy_timeout: "5s"
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the background job runner.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 16
//   - history_size: 50
//   - default_timeout: "2m"
//   - timezone: host local time
type SchedulerConfig struct {
	Enabled   bool `json:"enabled,omitempty"`
	Workers   int  `json:"workers,omitempty"`
	QueueSize int  `json:"queue_size,omitempty"`

	HistorySize int `json:"history_size,omitempty"`

	// DefaultTimeout bounds a single job run. Go duration string.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// Timezone for cron expressions, e.g. "Asia/Jakarta".
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the club notification pipeline. Security
// escalation DMs do not pass through here; they are sent directly.
type NotifierConfig struct {
	Enabled bool `json:"enabled,omitempty"`

	// QueueSize bounds pending notifications. Default 64.
	QueueSize int `json:"queue_size,omitempty"`

	// DedupWindow suppresses repeats of the same notification key.
	// Go duration string, default "1h".
	DedupWindow string `json:"dedup_window,omitempty"`

	// RatePerMin caps outbound notifications per minute. Default 20.
	RatePerMin int `json:"rate_per_min,omitempty"`
}

// ClubConfig holds the club-membership features: roster sync, dues
// tracking and polls.
type ClubConfig struct {
	// GuildID is the club guild. Required for roster sync and reminders.
	GuildID string `json:"guild_id,omitempty"`

	// AnnounceChannel receives poll announcements and reminder summaries.
	AnnounceChannel string `json:"announce_channel,omitempty"`

	Roster RosterConfig `json:"roster,omitempty"`
	Fee    FeeConfig    `json:"fee,omitempty"`
}

// RosterConfig controls the member roster import.
type RosterConfig struct {
	// CSVPath is an optional roster CSV merged on sync.
	CSVPath string `json:"csv_path,omitempty"`

	// SyncEvery is the roster sync interval. Go duration string,
	// default "6h". An empty CSVPath still syncs from the guild
	// member list.
	SyncEvery string `json:"sync_every,omitempty"`
}

// FeeConfig controls dues reminders.
type FeeConfig struct {
	Enabled bool `json:"enabled,omitempty"`

	// Amount is a display string, e.g. "Rp50.000".
	Amount string `json:"amount,omitempty"`

	// DueDay is the day of month dues are due. Default 5.
	DueDay int `json:"due_day,omitempty"`

	// RemindCron overrides the reminder schedule. Default "0 9 * * *".
	RemindCron string `json:"remind_cron,omitempty"`
}

// OpsConfig controls the local ops HTTP endpoint (health, metrics,
// optional pprof).
type OpsConfig struct {
	Enabled bool `json:"enabled,omitempty"`

	// Addr to listen on. Default "127.0.0.1:6060"; keep it on loopback
	// unless the host firewall covers it.
	Addr string `json:"addr,omitempty"`

	// Pprof exposes /debug/pprof when true.
	Pprof bool `json:"pprof,omitempty"`
}
