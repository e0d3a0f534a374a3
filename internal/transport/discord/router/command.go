package router

import (
	"context"
	"time"

	"clubbot/internal/security"
	kit "clubbot/internal/transport"
	logx "clubbot/pkg/logx"
)

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "ping"
	//   "fee pay"
	Route       string
	Aliases     []string // root-level shortcuts, e.g. ["p"]
	Description string

	// Usage is the argument synopsis without the command prefix; help
	// rendering prepends the active prefix.
	Usage string

	// Require is checked by the security engine before the handler is
	// enqueued. The zero value admits everyone the guild policy admits.
	Require security.Requirement

	Timeout time.Duration // per-command override; 0 uses the router default
	Handle  HandlerFunc
}

// Authorizer is the admission check consulted once per invocation.
// *security.Engine satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, cc security.CallerContext, req security.Requirement) security.Verdict
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	GuildID      string
	FromID       string
	FromUsername string
	Roles        []string // role ids the sender holds (nil in DMs)
	Path         []string // matched command path tokens
	Command      string   // canonical route
	Args         []string // positional args after flag parsing

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter  kit.Adapter
	Config   *Config
	Logger   logx.Logger
	Services *Services
}

// Reply sends text back to the invoking channel with mentions
// suppressed. Most handlers answer through this.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{SuppressMentions: true})
	return err
}

// ReplyEmbed sends an embed card back to the invoking channel.
func (r *Request) ReplyEmbed(ctx context.Context, text string, embed *kit.Embed) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{Embed: embed, SuppressMentions: true})
	return err
}

type Services struct {
	// AppSupervisor is set by the app once started.
	// It can be nil in minimal/test environments.
	AppSupervisor *Supervisor

	// RuntimeSupervisors exposes additional subsystem supervisors
	// (adapter, scheduler, router) for operational commands.
	//
	// This is read-only / best-effort; entries may be nil in
	// minimal/test environments.
	RuntimeSupervisors *SupervisorRegistry
}
