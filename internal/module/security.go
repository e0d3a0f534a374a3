package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"clubbot/internal/security"
	"clubbot/internal/storage"
	kit "clubbot/internal/transport"
	"clubbot/internal/transport/discord/router"
)

const embedColor = 0x5865F2

func securityCommands(d Deps) []router.Command {
	adminOnly := security.Requirement{Level: security.LevelAdmin}

	return []router.Command{
		{
			Route:       "sec status",
			Description: "security engine snapshot",
			Usage:       "sec status",
			Require:     adminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdSecStatus(ctx, req, d)
			},
		},
		{
			Route:       "sec events",
			Description: "recent security events",
			Usage:       "sec events [n] [--severity s] [--type t]",
			Require:     adminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdSecEvents(ctx, req, d)
			},
		},
		{
			Route:       "sec retention",
			Description: "delete stored events older than N days",
			Usage:       "sec retention <days>",
			Require:     adminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdSecRetention(ctx, req, d)
			},
		},
		{
			Route:       "sec limits",
			Description: "show the effective rate-limit table",
			Usage:       "sec limits",
			Require:     adminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdSecLimits(ctx, req, d)
			},
		},
		{
			Route:       "sec report",
			Description: "raise a critical security event about a user",
			Usage:       "sec report <@user> <note...>",
			Require:     adminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdSecReport(ctx, req, d)
			},
		},
	}
}

func cmdSecStatus(ctx context.Context, req *router.Request, d Deps) error {
	if d.Engine == nil {
		return req.Reply(ctx, "security engine unavailable")
	}
	st := d.Engine.Stats(ctx)
	embed := &kit.Embed{
		Title: "🛡 security status",
		Color: embedColor,
		Fields: []kit.EmbedField{
			{Name: "rate limits", Value: fmt.Sprintf("%d active / %d tracked", st.ActiveRateLimits, st.TotalRateLimits), Inline: true},
			{Name: "suspicion buckets", Value: strconv.Itoa(st.SuspiciousActivityCount), Inline: true},
			{Name: "events (24h)", Value: strconv.Itoa(st.RecentSecurityEventCount), Inline: true},
		},
		Footer: "default retention: " + d.Engine.DefaultRetention().String(),
	}
	return req.ReplyEmbed(ctx, "", embed)
}

func cmdSecEvents(ctx context.Context, req *router.Request, d Deps) error {
	if d.Engine == nil {
		return req.Reply(ctx, "security engine unavailable")
	}
	f := storage.EventFilter{
		Severity: req.Flags["severity"],
		Type:     req.Flags["type"],
	}
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			return req.Reply(ctx, "usage: "+prefixOf(req)+"sec events [n] [--severity s] [--type t]")
		}
		f.Limit = n
	}
	events, err := d.Engine.RecentEvents(ctx, f)
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return req.Reply(ctx, "storage is disabled; no events are kept")
		}
		return req.Reply(ctx, "event lookup failed: "+err.Error())
	}
	if len(events) == 0 {
		return req.Reply(ctx, "no matching events")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "last %d event(s):", len(events))
	for _, ev := range events {
		fmt.Fprintf(&b, "\n`#%d %s` [%s] %s", ev.ID, ev.At.Local().Format("01-02 15:04:05"), ev.Severity, ev.Type)
		if ev.UserID != "" {
			name := ev.Username
			if name == "" {
				name = ev.UserID
			}
			fmt.Fprintf(&b, " by %s", name)
		}
		if ev.Command != "" {
			fmt.Fprintf(&b, " cmd=%s", ev.Command)
		}
		if ev.Details != "" && len(ev.Details) <= 80 {
			fmt.Fprintf(&b, " %s", ev.Details)
		}
	}
	return req.Reply(ctx, b.String())
}

func cmdSecRetention(ctx context.Context, req *router.Request, d Deps) error {
	if d.Engine == nil {
		return req.Reply(ctx, "security engine unavailable")
	}
	if len(req.Args) == 0 {
		return req.Reply(ctx, fmt.Sprintf("default retention: %s\nusage: %ssec retention <days>",
			d.Engine.DefaultRetention(), prefixOf(req)))
	}
	days, err := strconv.Atoi(req.Args[0])
	if err != nil || days <= 0 {
		return req.Reply(ctx, "days must be a positive number")
	}
	n, err := d.Engine.PurgeEventsOlderThan(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return req.Reply(ctx, "storage is disabled; no events are kept")
		}
		return req.Reply(ctx, "purge failed: "+err.Error())
	}
	return req.Reply(ctx, fmt.Sprintf("🧹 purged %d event(s) older than %dd", n, days))
}

func cmdSecLimits(ctx context.Context, req *router.Request, d Deps) error {
	if d.Engine == nil {
		return req.Reply(ctx, "security engine unavailable")
	}
	rc := d.Engine.RateRules()
	var b strings.Builder
	b.WriteString("rate limits (fixed window):")
	fmt.Fprintf(&b, "\n• default: %d per %s", rc.Default.Limit, rc.Default.Window)
	names := make([]string, 0, len(rc.Commands))
	for name := range rc.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := rc.Commands[name]
		fmt.Fprintf(&b, "\n• %s: %d per %s", name, r.Limit, r.Window)
	}
	return req.Reply(ctx, b.String())
}

func cmdSecReport(ctx context.Context, req *router.Request, d Deps) error {
	if d.Engine == nil {
		return req.Reply(ctx, "security engine unavailable")
	}
	if len(req.Args) < 2 {
		return req.Reply(ctx, "usage: "+prefixOf(req)+"sec report <@user> <note...>")
	}
	target := parseUserID(req.Args[0])
	if target == "" {
		return req.Reply(ctx, "cannot read the user; mention them or paste their id")
	}
	note := strings.Join(req.Args[1:], " ")
	d.Engine.Publish(ctx, security.Event{
		Type:      security.EventSuspiciousActivity,
		UserID:    target,
		GuildID:   req.GuildID,
		ChannelID: req.Chat.ChannelID,
		Command:   "sec report",
		Details:   map[string]any{"note": note, "reported_by": req.FromID},
		Severity:  security.SeverityCritical,
	})
	return req.Reply(ctx, "🚨 report recorded; admins are being notified")
}
