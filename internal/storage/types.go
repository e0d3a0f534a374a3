package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and Open returns
// (nil, nil).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// SecurityEvent is one durable security event row.
// Keep it compact and schema-stable.
type SecurityEvent struct {
	ID       int64
	Type     string
	UserID   string
	Username string
	// GuildID is empty for direct messages.
	GuildID   string
	ChannelID string
	Command   string
	// Details is serialized JSON, empty when the event carries none.
	Details  string
	Severity string
	At       time.Time
}

// EventFilter narrows RecentEvents. Zero values mean "any".
type EventFilter struct {
	Type     string
	Severity string
	// Limit caps returned rows; 0 means the default of 50.
	Limit int
}

// MemberRecord is one roster row. FeePaidThrough is a "YYYY-MM" month
// string, empty when the member has never paid.
type MemberRecord struct {
	UserID         string
	Username       string
	DisplayName    string
	Roles          []string
	JoinedAt       time.Time
	FeePaidThrough string
	UpdatedAt      time.Time
}

// Poll is one poll row. Options are answer texts in display order.
type Poll struct {
	ID        int64
	GuildID   string
	ChannelID string
	CreatorID string
	Question  string
	Options   []string
	// ClosesAt is zero when the poll has no deadline.
	ClosesAt  time.Time
	Closed    bool
	CreatedAt time.Time
}
