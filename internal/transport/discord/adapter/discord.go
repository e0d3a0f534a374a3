package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "clubbot/internal/runtime/supervisor"
	kit "clubbot/internal/transport"
	logx "clubbot/pkg/logx"
)

type Config struct {
	Token string
}

// Adapter bridges the Discord gateway to the platform-neutral kit types.
// discordgo handles reconnects internally; the adapter only owns the
// update hand-off and the send paths.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	session *discordgo.Session

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (drop logger).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the gateway. Logged periodically to avoid per-update log spam.
	droppedUpdates uint64
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, session: s}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.log.Info("gateway ready",
			logx.String("user", r.User.Username),
			logx.Int("guilds", len(r.Guilds)))
	})

	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == "" {
			return
		}
		// Skip our own messages before they loop back through the router.
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		var roles []string
		if m.Member != nil {
			roles = m.Member.Roles
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				GuildID:      m.GuildID,
				ChannelID:    m.ChannelID,
				FromID:       m.Author.ID,
				FromUsername: m.Author.Username,
				FromRoles:    roles,
				FromIsBot:    m.Author.Bot,
				Text:         m.Content,
			},
		})
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	if err := a.session.Open(); err != nil {
		a.runMu.Lock()
		a.sup = nil
		var nilOut chan<- kit.Update
		a.out.Store(nilOut)
		a.runMu.Unlock()
		sup.Cancel()
		return err
	}

	a.runMu.Lock()
	a.running = true
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				// Final flush.
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	if !wasRunning {
		a.log.Debug("discord stop called but not running")
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}

	// Close the gateway; discordgo waits for its internal goroutines.
	if err := a.session.Close(); err != nil {
		a.log.Warn("gateway close error", logx.Err(err))
	}

	if sup == nil {
		return nil
	}

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil
		}
		a.log.Warn("discord stop error", logx.Err(err))
	}
	return nil
}

// discordTextLimit is the platform cap per message.
const discordTextLimit = 2000

// splitDiscordText splits long messages into sendable chunks, preferring
// newline boundaries so lists and tallies stay readable.
func splitDiscordText(s string, limit int) []string {
	if limit <= 0 {
		limit = discordTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		// Skip leading newlines to avoid empty chunks.
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if to.ChannelID == "" {
		return kit.MessageRef{}, errors.New("empty channel id")
	}

	chunks := splitDiscordText(text, discordTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				if first.MessageID != "" {
					return first, ctx.Err()
				}
				return kit.MessageRef{}, ctx.Err()
			default:
			}
		}

		send := &discordgo.MessageSend{Content: chunk}
		if opt.SuppressMentions {
			send.AllowedMentions = &discordgo.MessageAllowedMentions{}
		}
		// Attach the embed only to the first message.
		if i == 0 && opt.Embed != nil {
			send.Embeds = []*discordgo.MessageEmbed{toDiscordEmbed(opt.Embed)}
		}

		msg, err := a.session.ChannelMessageSendComplex(to.ChannelID, send, discordgo.WithContext(reqCtx(ctx)))
		if err != nil {
			if first.MessageID != "" {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChannelID: to.ChannelID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendDM opens (or reuses) the recipient's DM channel and sends there.
// Discord returns an error for users whose privacy settings block bot
// DMs; callers treat that as a per-recipient failure.
func (a *Adapter) SendDM(ctx context.Context, userID, text string) error {
	if userID == "" {
		return errors.New("empty user id")
	}
	ch, err := a.session.UserChannelCreate(userID, discordgo.WithContext(reqCtx(ctx)))
	if err != nil {
		return err
	}
	for _, chunk := range splitDiscordText(text, discordTextLimit) {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := a.session.ChannelMessageSend(ch.ID, chunk, discordgo.WithContext(reqCtx(ctx))); err != nil {
			return err
		}
	}
	return nil
}

const memberPageSize = 1000

// Members pages through the full guild member list. Needs the guild
// members intent.
func (a *Adapter) Members(ctx context.Context, guildID string) ([]kit.Member, error) {
	if guildID == "" {
		return nil, errors.New("empty guild id")
	}
	var out []kit.Member
	after := ""
	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		page, err := a.session.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(reqCtx(ctx)))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, gm := range page {
			if gm.User == nil {
				continue
			}
			out = append(out, kit.Member{
				UserID:   gm.User.ID,
				Username: gm.User.Username,
				RoleIDs:  gm.Roles,
				IsBot:    gm.User.Bot,
			})
		}
		if len(page) < memberPageSize {
			break
		}
		after = page[len(page)-1].User.ID
	}
	return out, nil
}

func toDiscordEmbed(e *kit.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return out
}

func reqCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
