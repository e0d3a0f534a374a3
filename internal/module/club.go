package module

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clubbot/internal/club"
	"clubbot/internal/notifier/broadcast"
	"clubbot/internal/security"
	"clubbot/internal/storage"
	"clubbot/internal/transport/discord/router"
)

func clubCommands(d Deps) []router.Command {
	memberOnly := security.Requirement{Level: security.LevelMember}
	adminOnly := security.Requirement{Level: security.LevelAdmin}

	return []router.Command{
		{
			Route:       "fee status",
			Aliases:     []string{"dues"},
			Description: "show dues status for you or another member",
			Usage:       "fee status [@user]",
			Require:     memberOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdFeeStatus(ctx, req, d)
			},
		},
		{
			Route:       "fee paid",
			Description: "record a dues payment",
			Usage:       "fee paid <@user> [months]",
			Require:     adminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdFeePaid(ctx, req, d)
			},
		},
		{
			Route:       "fee unpaid",
			Description: "list members behind on dues",
			Usage:       "fee unpaid",
			Require:     adminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdFeeUnpaid(ctx, req, d)
			},
		},
		{
			Route:       "fee remind",
			Description: "DM every unpaid member, or check a running reminder",
			Usage:       "fee remind [jobID]",
			Require:     adminOnly,
			Timeout:     time.Minute,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdFeeRemind(ctx, req, d)
			},
		},
		{
			Route:       "poll create",
			Description: "start a poll in this channel",
			Usage:       `poll create "question" <option>... [--closes 24h]`,
			Require:     memberOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdPollCreate(ctx, req, d)
			},
		},
		{
			Route:       "poll vote",
			Description: "vote in a poll (voting again replaces your vote)",
			Usage:       "poll vote <id> <option>",
			Require:     memberOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdPollVote(ctx, req, d)
			},
		},
		{
			Route:       "poll show",
			Description: "show a poll and its tally",
			Usage:       "poll show <id>",
			Require:     memberOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdPollShow(ctx, req, d)
			},
		},
		{
			Route:       "poll close",
			Description: "close a poll and publish the result",
			Usage:       "poll close <id>",
			Require:     adminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdPollClose(ctx, req, d)
			},
		},
		{
			Route:       "roster sync",
			Description: "pull the member roster now",
			Usage:       "roster sync",
			Require:     adminOnly,
			Timeout:     2 * time.Minute,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdRosterSync(ctx, req, d)
			},
		},
		{
			Route:       "roster admins",
			Description: "show who receives security escalations",
			Usage:       "roster admins",
			Require:     adminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				return cmdRosterAdmins(ctx, req, d)
			},
		},
	}
}

func cmdFeeStatus(ctx context.Context, req *router.Request, d Deps) error {
	if d.Club == nil {
		return req.Reply(ctx, "club service unavailable")
	}
	target := req.FromID
	if len(req.Args) > 0 {
		id := parseUserID(req.Args[0])
		if id == "" {
			return req.Reply(ctx, "usage: "+prefixOf(req)+"fee status [@user]")
		}
		target = id
	}
	st, err := d.Club.FeeStatus(ctx, target)
	if err != nil {
		return req.Reply(ctx, clubErrText(err))
	}
	name := memberName(st.Member)
	if st.Paid {
		return req.Reply(ctx, fmt.Sprintf("✅ %s is paid through %s (current month %s)", name, st.PaidThrough, st.Month))
	}
	paidThrough := st.PaidThrough
	if paidThrough == "" {
		paidThrough = "never"
	}
	return req.Reply(ctx, fmt.Sprintf("❌ %s owes dues for %s (%s); paid through: %s", name, st.Month, st.Amount, paidThrough))
}

func cmdFeePaid(ctx context.Context, req *router.Request, d Deps) error {
	if d.Club == nil {
		return req.Reply(ctx, "club service unavailable")
	}
	if len(req.Args) == 0 {
		return req.Reply(ctx, "usage: "+prefixOf(req)+"fee paid <@user> [months]")
	}
	target := parseUserID(req.Args[0])
	if target == "" {
		return req.Reply(ctx, "cannot read the user; mention them or paste their id")
	}
	months := 1
	if len(req.Args) > 1 {
		n, err := strconv.Atoi(req.Args[1])
		if err != nil {
			return req.Reply(ctx, "months must be a number")
		}
		months = n
	}
	paidThrough, err := d.Club.MarkFeePaid(ctx, target, months)
	if err != nil {
		return req.Reply(ctx, clubErrText(err))
	}
	return req.Reply(ctx, fmt.Sprintf("💰 recorded %d month(s) for <@%s>; paid through %s", months, target, paidThrough))
}

func cmdFeeUnpaid(ctx context.Context, req *router.Request, d Deps) error {
	if d.Club == nil {
		return req.Reply(ctx, "club service unavailable")
	}
	unpaid, err := d.Club.UnpaidMembers(ctx)
	if err != nil {
		return req.Reply(ctx, clubErrText(err))
	}
	if len(unpaid) == 0 {
		return req.Reply(ctx, "everyone is paid up 🎉")
	}
	const maxListed = 30
	names := make([]string, 0, len(unpaid))
	for i, m := range unpaid {
		if i == maxListed {
			names = append(names, fmt.Sprintf("+%d more", len(unpaid)-maxListed))
			break
		}
		names = append(names, memberName(m))
	}
	return req.Reply(ctx, fmt.Sprintf("unpaid (%d): %s", len(unpaid), strings.Join(names, ", ")))
}

func cmdFeeRemind(ctx context.Context, req *router.Request, d Deps) error {
	if len(req.Args) > 0 {
		if d.Broadcast == nil {
			return req.Reply(ctx, "broadcast service unavailable")
		}
		st, ok := d.Broadcast.Status(req.Args[0])
		if !ok {
			return req.Reply(ctx, "unknown job id")
		}
		return req.Reply(ctx, formatJobStatus(st))
	}
	if d.Club == nil {
		return req.Reply(ctx, "club service unavailable")
	}
	jobID, n, err := d.Club.RemindUnpaid(ctx)
	if err != nil {
		return req.Reply(ctx, clubErrText(err))
	}
	if n == 0 {
		return req.Reply(ctx, "everyone is paid up 🎉")
	}
	return req.Reply(ctx, fmt.Sprintf("📤 reminding %d member(s) by DM; check progress with `%sfee remind %s`", n, prefixOf(req), jobID))
}

func cmdPollCreate(ctx context.Context, req *router.Request, d Deps) error {
	if d.Club == nil {
		return req.Reply(ctx, "club service unavailable")
	}
	if len(req.Args) < 3 {
		return req.Reply(ctx, "usage: "+prefixOf(req)+`poll create "question" <option> <option>... [--closes 24h]`)
	}
	question, options := req.Args[0], req.Args[1:]
	closesIn := 24 * time.Hour
	if v := req.Flags["closes"]; v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return req.Reply(ctx, "cannot read --closes; use a duration like 24h or 90m")
		}
		closesIn = dur
	}
	p, err := d.Club.CreatePoll(ctx, req.GuildID, req.Chat.ChannelID, req.FromID, question, options, closesIn)
	if err != nil {
		return req.Reply(ctx, clubErrText(err))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 poll #%d: %s", p.ID, p.Question)
	for i, opt := range p.Options {
		fmt.Fprintf(&b, "\n%d) %s", i+1, opt)
	}
	fmt.Fprintf(&b, "\nvote with `%spoll vote %d <option>`", prefixOf(req), p.ID)
	if !p.ClosesAt.IsZero() {
		fmt.Fprintf(&b, " (closes %s)", p.ClosesAt.Local().Format("2006-01-02 15:04"))
	}
	return req.Reply(ctx, b.String())
}

func cmdPollVote(ctx context.Context, req *router.Request, d Deps) error {
	if d.Club == nil {
		return req.Reply(ctx, "club service unavailable")
	}
	if len(req.Args) < 2 {
		return req.Reply(ctx, "usage: "+prefixOf(req)+"poll vote <id> <option>")
	}
	id, err1 := strconv.ParseInt(req.Args[0], 10, 64)
	choice, err2 := strconv.Atoi(req.Args[1])
	if err1 != nil || err2 != nil {
		return req.Reply(ctx, "poll id and option must be numbers")
	}
	if err := d.Club.Vote(ctx, id, req.FromID, choice); err != nil {
		return req.Reply(ctx, clubErrText(err))
	}
	return req.Reply(ctx, fmt.Sprintf("🗳 vote recorded for poll #%d", id))
}

func cmdPollShow(ctx context.Context, req *router.Request, d Deps) error {
	if d.Club == nil {
		return req.Reply(ctx, "club service unavailable")
	}
	if len(req.Args) < 1 {
		return req.Reply(ctx, "usage: "+prefixOf(req)+"poll show <id>")
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return req.Reply(ctx, "poll id must be a number")
	}
	res, err := d.Club.ShowPoll(ctx, id)
	if err != nil {
		return req.Reply(ctx, clubErrText(err))
	}
	return req.Reply(ctx, club.FormatPollResult(res))
}

func cmdPollClose(ctx context.Context, req *router.Request, d Deps) error {
	if d.Club == nil {
		return req.Reply(ctx, "club service unavailable")
	}
	if len(req.Args) < 1 {
		return req.Reply(ctx, "usage: "+prefixOf(req)+"poll close <id>")
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return req.Reply(ctx, "poll id must be a number")
	}
	res, err := d.Club.ClosePoll(ctx, id)
	if err != nil {
		return req.Reply(ctx, clubErrText(err))
	}
	return req.Reply(ctx, club.FormatPollResult(res))
}

func cmdRosterSync(ctx context.Context, req *router.Request, d Deps) error {
	if d.Roster == nil {
		return req.Reply(ctx, "roster sync unavailable")
	}
	start := time.Now()
	res, err := d.Roster.Sync(ctx)
	if err != nil {
		return req.Reply(ctx, "roster sync failed: "+err.Error())
	}
	return req.Reply(ctx, fmt.Sprintf("📇 roster synced in %s: %d rows, %d upserted, %d failed",
		durRel(time.Since(start)), res.Total, res.Upserted, res.Failed))
}

func cmdRosterAdmins(ctx context.Context, req *router.Request, d Deps) error {
	if d.Directory == nil {
		return req.Reply(ctx, "admin directory unavailable")
	}
	admins, err := d.Directory.GuildAdmins(ctx, req.GuildID)
	if err != nil {
		return req.Reply(ctx, "admin lookup failed: "+err.Error())
	}
	if len(admins) == 0 {
		return req.Reply(ctx, "no admins resolved; check security.admin_roles")
	}
	mentions := make([]string, 0, len(admins))
	for _, id := range admins {
		mentions = append(mentions, "<@"+id+">")
	}
	return req.Reply(ctx, fmt.Sprintf("escalations go to %d admin(s): %s", len(admins), strings.Join(mentions, ", ")))
}

// parseUserID accepts a Discord mention (<@id> or <@!id>) or a bare
// numeric id and returns the id, or "" when the token is neither.
func parseUserID(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
		s = strings.TrimPrefix(s, "!")
	}
	if s == "" {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s
}

func memberName(m storage.MemberRecord) string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	if m.Username != "" {
		return m.Username
	}
	return m.UserID
}

func prefixOf(req *router.Request) string {
	if req.Config != nil && req.Config.Discord.CommandPrefix != "" {
		return req.Config.Discord.CommandPrefix
	}
	return "!"
}

func clubErrText(err error) string {
	switch {
	case errors.Is(err, club.ErrNoStorage):
		return "storage is disabled; club features are off"
	case errors.Is(err, club.ErrFeeDisabled):
		return "fee tracking is disabled"
	case errors.Is(err, club.ErrMemberUnknown):
		return "member not on the roster; an admin can run roster sync"
	case errors.Is(err, club.ErrPollNotFound):
		return "poll not found"
	case errors.Is(err, club.ErrPollClosed):
		return "that poll is already closed"
	}
	return err.Error()
}

func formatJobStatus(st broadcast.JobStatus) string {
	state := "done"
	switch {
	case st.Running:
		state = "running"
	case st.DoneAt.IsZero():
		state = "queued"
	}
	s := fmt.Sprintf("job %s (%s): %d/%d sent, %d failed, %s", st.ID, st.Name, st.Done, st.Total, st.Failed, state)
	if len(st.Failures) > 0 {
		show := st.Failures
		if len(show) > 5 {
			show = show[:5]
		}
		s += "\nfailed: " + strings.Join(show, ", ")
		if extra := len(st.Failures) - len(show); extra > 0 {
			s += fmt.Sprintf(" (+%d more)", extra)
		}
	}
	return s
}
