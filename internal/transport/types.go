package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is a platform-neutral view of an incoming chat message.
// IDs are platform snowflakes kept as opaque strings.
type Message struct {
	ID           string
	GuildID      string // empty for direct messages
	ChannelID    string
	FromID       string
	FromUsername string
	FromRoles    []string // role ids held by the sender in GuildID (nil in DMs)
	FromIsBot    bool
	Text         string
}

type ChatTarget struct {
	ChannelID string
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

type SendOptions struct {
	Embed *Embed
	// SuppressMentions disables @everyone/@here and role pings in the outgoing
	// message. Bot replies quote user input, so this defaults to on in callers.
	SuppressMentions bool
}

// Embed is the platform-neutral subset of a rich message card.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Member is a guild member as reported by the platform.
type Member struct {
	UserID   string
	Username string
	RoleIDs  []string
	IsBot    bool
}

type Notification struct {
	Channel  string // "discord" now
	Priority int    // 0 low .. 10 high
	Target   ChatTarget
	UserID   string // when set, deliver as a direct message instead of Target
	Text     string
	Options  *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendDM(ctx context.Context, userID string, text string) error
}

// MemberLister is an optional interface for adapters that can enumerate guild
// members (used for admin resolution and reminder fan-out).
type MemberLister interface {
	Members(ctx context.Context, guildID string) ([]Member, error)
}
