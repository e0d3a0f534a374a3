package roster

import (
	"context"

	kit "clubbot/internal/transport"
)

// GuildSource lists members straight from the chat platform. Used when
// no CSV export is configured; bots are excluded.
type GuildSource struct {
	Lister  kit.MemberLister
	GuildID string
}

func (g GuildSource) Fetch(ctx context.Context) ([]Entry, error) {
	members, err := g.Lister.Members(ctx, g.GuildID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(members))
	for _, m := range members {
		if m.IsBot {
			continue
		}
		out = append(out, Entry{UserID: m.UserID, Username: m.Username})
	}
	return out, nil
}
