package security

import "time"

// Level is the base access tier a command demands.
type Level string

const (
	// LevelAdmin requires a configured admin role.
	LevelAdmin Level = "admin"
	// LevelMember requires a configured member role (admins pass too).
	LevelMember Level = "member"
	// LevelAll passes the level gate for everyone.
	LevelAll Level = "all"
)

// Requirement is declared per command by its owner, not by the engine.
// Empty lists mean "no restriction on that axis", never "deny all".
type Requirement struct {
	Level Level

	// AllowedRoles, when non-empty, additionally requires one of these roles.
	AllowedRoles []string
	// AllowedUsers, when non-empty, additionally requires the caller id to match.
	AllowedUsers []string
	// AllowedChannels, when non-empty, restricts the command to these channels.
	AllowedChannels []string
	// RestrictedChannels always win over any allow-list for the same channel.
	RestrictedChannels []string
}

// CallerContext is the transient per-invocation identity and context.
// GuildID is empty for direct messages.
type CallerContext struct {
	UserID    string
	Username  string
	GuildID   string
	ChannelID string
	Command   string
	Roles     []string
}

// Verdict is relayed to the end user by the dispatcher.
type Verdict struct {
	Allowed bool
	// Reason is a short user-facing sentence, set only on denials.
	Reason string
}

// EventType classifies a security event.
type EventType string

const (
	EventCommandExecution   EventType = "command_execution"
	EventPermissionDenied   EventType = "permission_denied"
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventSuspiciousActivity EventType = "suspicious_activity"
)

// Severity orders events for escalation. High and critical fan out to
// operators; critical is reserved for operator-raised events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one engine observation, durable once logged.
type Event struct {
	Type      EventType
	UserID    string
	Username  string
	GuildID   string
	ChannelID string
	Command   string
	Details   map[string]any
	Severity  Severity
	At        time.Time
}

// Stats is the on-demand aggregate snapshot for status reports.
type Stats struct {
	ActiveRateLimits         int
	TotalRateLimits          int
	SuspiciousActivityCount  int
	RecentSecurityEventCount int
}
