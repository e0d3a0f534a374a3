package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"clubbot/internal/security"
	kit "clubbot/internal/transport"
	logx "clubbot/pkg/logx"
)

type sentMsg struct {
	channel string
	text    string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                        { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{channel: to.ChannelID, text: text})
	return kit.MessageRef{ChannelID: to.ChannelID, MessageID: "x"}, nil
}

func (f *fakeAdapter) SendDM(ctx context.Context, userID string, text string) error { return nil }

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeAdapter) lastSent() (sentMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMsg{}, false
	}
	return f.sent[len(f.sent)-1], true
}

type fakeAuth struct {
	mu    sync.Mutex
	calls []security.CallerContext
	reqs  []security.Requirement
	deny  string // non-empty denies every call with this reason
}

func (f *fakeAuth) Authorize(ctx context.Context, cc security.CallerContext, req security.Requirement) security.Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cc)
	f.reqs = append(f.reqs, req)
	if f.deny != "" {
		return security.Verdict{Reason: f.deny}
	}
	return security.Verdict{Allowed: true}
}

func (f *fakeAuth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// capture records Requests a test handler observed.
type capture struct {
	mu   sync.Mutex
	reqs []*Request
}

func (c *capture) handler(ctx context.Context, req *Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func (c *capture) last() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reqs) == 0 {
		return nil
	}
	return c.reqs[len(c.reqs)-1]
}

func startRouter(t *testing.T, cmds []Command, auth Authorizer) (*CommandManager, *fakeAdapter, chan kit.Update, func()) {
	t.Helper()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, nil, auth, nil)
	m.SetRegistry(cmds)

	updates := make(chan kit.Update, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("dispatch loop did not stop")
		}
	}
	return m, ad, updates, stop
}

func guildMsg(text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:           "m1",
		GuildID:      "g1",
		ChannelID:    "c1",
		FromID:       "u1",
		FromUsername: "alice",
		FromRoles:    []string{"r-admin"},
		Text:         text,
	}}
}

func TestDispatchRunsHandler(t *testing.T) {
	var h capture
	_, _, updates, stop := startRouter(t, []Command{
		{Route: "ping", Handle: h.handler},
	}, nil)
	defer stop()

	updates <- guildMsg("!ping")
	waitFor(t, 2*time.Second, func() bool { return h.count() == 1 })

	req := h.last()
	if req.Command != "ping" || req.FromID != "u1" || req.GuildID != "g1" {
		t.Fatalf("request = %+v", req)
	}
	if req.ReqID == "" {
		t.Fatal("no request id")
	}
	if len(req.Args) != 0 {
		t.Fatalf("args = %v, want none", req.Args)
	}
}

func TestDispatchParsesArgsAndFlags(t *testing.T) {
	var h capture
	_, _, updates, stop := startRouter(t, []Command{
		{Route: "fee pay", Handle: h.handler},
	}, nil)
	defer stop()

	updates <- guildMsg("!fee pay 123 extra --months=2 --force")
	waitFor(t, 2*time.Second, func() bool { return h.count() == 1 })

	req := h.last()
	if got := strings.Join(req.Path, " "); got != "fee pay" {
		t.Fatalf("path = %q", got)
	}
	if len(req.Args) != 2 || req.Args[0] != "123" || req.Args[1] != "extra" {
		t.Fatalf("args = %v", req.Args)
	}
	if req.Flags["months"] != "2" || !req.BoolFlags["force"] {
		t.Fatalf("flags = %v bools = %v", req.Flags, req.BoolFlags)
	}
}

func TestAuthorizeCalledOncePerInvocation(t *testing.T) {
	var h capture
	auth := &fakeAuth{}
	require := security.Requirement{Level: security.LevelAdmin}
	_, _, updates, stop := startRouter(t, []Command{
		{Route: "sec status", Require: require, Handle: h.handler},
	}, auth)
	defer stop()

	updates <- guildMsg("!sec status")
	waitFor(t, 2*time.Second, func() bool { return h.count() == 1 })

	auth.mu.Lock()
	defer auth.mu.Unlock()
	if len(auth.calls) != 1 {
		t.Fatalf("authorize calls = %d, want 1", len(auth.calls))
	}
	cc := auth.calls[0]
	if cc.Command != "sec status" || cc.UserID != "u1" || cc.GuildID != "g1" || cc.ChannelID != "c1" {
		t.Fatalf("caller context = %+v", cc)
	}
	if auth.reqs[0].Level != security.LevelAdmin {
		t.Fatalf("requirement = %+v", auth.reqs[0])
	}
}

func TestDenialRelayedToChannel(t *testing.T) {
	var h capture
	auth := &fakeAuth{deny: "this command is restricted to admins"}
	_, ad, updates, stop := startRouter(t, []Command{
		{Route: "sec status", Require: security.Requirement{Level: security.LevelAdmin}, Handle: h.handler},
	}, auth)
	defer stop()

	updates <- guildMsg("!sec status")
	waitFor(t, 2*time.Second, func() bool { return ad.sentCount() == 1 })

	if h.count() != 0 {
		t.Fatal("handler ran despite denial")
	}
	msg, _ := ad.lastSent()
	if msg.channel != "c1" || msg.text != "this command is restricted to admins" {
		t.Fatalf("denial reply = %+v", msg)
	}
}

func TestIgnoresNonPrefixAndBotMessages(t *testing.T) {
	var h capture
	auth := &fakeAuth{}
	_, ad, updates, stop := startRouter(t, []Command{
		{Route: "ping", Handle: h.handler},
	}, auth)
	defer stop()

	updates <- guildMsg("ping without prefix")
	bot := guildMsg("!ping")
	bot.Message.FromIsBot = true
	updates <- bot
	updates <- guildMsg("!unknowncmd")
	// sentinel proves all prior updates were consumed
	updates <- guildMsg("!ping")
	waitFor(t, 2*time.Second, func() bool { return h.count() == 1 })

	if got := auth.callCount(); got != 1 {
		t.Fatalf("authorize calls = %d, want 1", got)
	}
	if n := ad.sentCount(); n != 0 {
		t.Fatalf("unexpected replies: %d", n)
	}
}

func TestAliasRoutesToCommand(t *testing.T) {
	var h capture
	_, _, updates, stop := startRouter(t, []Command{
		{Route: "poll show", Aliases: []string{"ps"}, Handle: h.handler},
	}, nil)
	defer stop()

	updates <- guildMsg("!ps 7")
	waitFor(t, 2*time.Second, func() bool { return h.count() == 1 })

	req := h.last()
	if req.Command != "poll show" {
		t.Fatalf("command = %q", req.Command)
	}
	if len(req.Args) != 1 || req.Args[0] != "7" {
		t.Fatalf("args = %v", req.Args)
	}
}

func TestCaseInsensitiveRouteTokens(t *testing.T) {
	var h capture
	_, _, updates, stop := startRouter(t, []Command{
		{Route: "fee pay", Handle: h.handler},
	}, nil)
	defer stop()

	updates <- guildMsg("!Fee PAY 123")
	waitFor(t, 2*time.Second, func() bool { return h.count() == 1 })
}

func TestContainerNodeRepliesWithHelp(t *testing.T) {
	var h capture
	_, ad, updates, stop := startRouter(t, []Command{
		{Route: "poll new", Handle: h.handler},
		{Route: "poll show", Handle: h.handler},
	}, nil)
	defer stop()

	updates <- guildMsg("!poll")
	waitFor(t, 2*time.Second, func() bool { return ad.sentCount() == 1 })

	msg, _ := ad.lastSent()
	if !strings.Contains(msg.text, "!poll new") || !strings.Contains(msg.text, "!poll show") {
		t.Fatalf("help reply = %q", msg.text)
	}
	if h.count() != 0 {
		t.Fatal("container path should not run a handler")
	}
}

func TestHelpCommandInjected(t *testing.T) {
	var h capture
	_, ad, updates, stop := startRouter(t, []Command{
		{Route: "ping", Description: "liveness check", Handle: h.handler},
	}, nil)
	defer stop()

	updates <- guildMsg("!help")
	waitFor(t, 2*time.Second, func() bool { return ad.sentCount() == 1 })

	msg, _ := ad.lastSent()
	if !strings.Contains(msg.text, "!ping") || !strings.Contains(msg.text, "liveness check") {
		t.Fatalf("help text = %q", msg.text)
	}
}

func TestBusyReplyWhenQueueFull(t *testing.T) {
	var h capture
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, nil, nil, nil)
	m.SetRegistry([]Command{{Route: "ping", Handle: h.handler}})

	// No dispatch loop: fill the job queue so the next enqueue is refused.
	for m.tryEnqueue(func() {}) {
	}

	m.routeMessage(context.Background(), guildMsg("!ping"))

	msg, ok := ad.lastSent()
	if !ok || msg.text != "busy, try again shortly" {
		t.Fatalf("busy reply = %+v ok=%v", msg, ok)
	}
	if h.count() != 0 {
		t.Fatal("handler must not run when queue is full")
	}
}
