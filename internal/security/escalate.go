package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	logx "clubbot/pkg/logx"
)

// AdminDirectory resolves guild members holding an admin role.
// The roster service implements it.
type AdminDirectory interface {
	GuildAdmins(ctx context.Context, guildID string) ([]string, error)
}

// DMSender delivers one direct message. The chat adapter implements it.
type DMSender interface {
	SendDM(ctx context.Context, userID, text string) error
}

// escalationRecipients bounds the fan-out per event.
const escalationRecipients = 3

// Escalator DMs operators about high-severity events. Best effort: no
// retries, no queue; a recipient with DMs disabled is skipped and the
// rest still get theirs.
type Escalator struct {
	dir AdminDirectory
	dm  DMSender
	log logx.Logger
}

func NewEscalator(dir AdminDirectory, dm DMSender, log logx.Logger) *Escalator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Escalator{dir: dir, dm: dm, log: log}
}

// Escalate sends the event summary to up to three admins of the event's
// guild, lowest user id first, and reports how many sends succeeded.
func (e *Escalator) Escalate(ctx context.Context, ev Event) int {
	if e == nil || e.dir == nil || e.dm == nil {
		return 0
	}
	if ev.GuildID == "" {
		return 0
	}

	admins, err := e.dir.GuildAdmins(ctx, ev.GuildID)
	if err != nil {
		e.log.Debug("escalation admin lookup failed",
			logx.Err(err), logx.String("guild_id", ev.GuildID))
		return 0
	}
	if len(admins) == 0 {
		return 0
	}

	sort.Strings(admins)
	if len(admins) > escalationRecipients {
		admins = admins[:escalationRecipients]
	}

	text := formatEscalation(ev)
	sent := 0
	for _, id := range admins {
		if err := e.dm.SendDM(ctx, id, text); err != nil {
			e.log.Debug("escalation dm failed",
				logx.Err(err), logx.String("recipient", id), logx.String("type", string(ev.Type)))
			continue
		}
		sent++
	}
	return sent
}

func formatEscalation(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ security alert: %s (%s)\n", ev.Type, ev.Severity)
	fmt.Fprintf(&b, "user: %s (%s)\n", ev.Username, ev.UserID)
	if ev.Command != "" {
		fmt.Fprintf(&b, "command: %s\n", ev.Command)
	}
	if ev.ChannelID != "" {
		fmt.Fprintf(&b, "channel: %s\n", ev.ChannelID)
	}
	fmt.Fprintf(&b, "time: %s", ev.At.UTC().Format(time.RFC3339))
	if len(ev.Details) > 0 {
		keys := make([]string, 0, len(ev.Details))
		for k := range ev.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Details[k]))
		}
		fmt.Fprintf(&b, "\ndetails: %s", strings.Join(parts, ", "))
	}
	return b.String()
}
