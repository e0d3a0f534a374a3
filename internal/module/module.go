package module

import (
	"time"

	"clubbot/internal/club"
	"clubbot/internal/notifier/broadcast"
	"clubbot/internal/roster"
	"clubbot/internal/scheduler"
	"clubbot/internal/security"
	"clubbot/internal/transport/discord/router"
	logx "clubbot/pkg/logx"
)

// Deps carries the services command handlers close over. Nil fields
// degrade to a "not available" reply from the affected commands.
type Deps struct {
	Log logx.Logger

	Engine    *security.Engine
	Club      *club.Service
	Roster    *roster.Syncer
	Directory *roster.Directory
	Scheduler *scheduler.Service
	Broadcast *broadcast.Service

	StartedAt time.Time
}

// Commands assembles the full command registry: liveness, club
// features and the security operator surface.
func Commands(d Deps) []router.Command {
	out := make([]router.Command, 0, 24)
	out = append(out, systemCommands(d)...)
	out = append(out, clubCommands(d)...)
	out = append(out, securityCommands(d)...)
	return out
}
