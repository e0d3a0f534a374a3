package roster

import (
	"context"
	"sync"
	"time"

	kit "clubbot/internal/transport"
	logx "clubbot/pkg/logx"
)

const defaultDirectoryTTL = 5 * time.Minute

// Directory resolves guild members holding an admin role, caching the
// member scan for a short TTL. It satisfies security.AdminDirectory.
//
// On a lister failure a stale cache entry is served rather than failing
// the caller; escalation recipients a few minutes out of date beat none.
type Directory struct {
	mu     sync.Mutex
	lister kit.MemberLister
	log    logx.Logger
	ttl    time.Duration
	admin  map[string]struct{}
	cache  map[string]dirEntry
	now    func() time.Time
}

type dirEntry struct {
	admins  []string
	fetched time.Time
}

func NewDirectory(lister kit.MemberLister, adminRoles []string, ttl time.Duration, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}
	d := &Directory{
		lister: lister,
		log:    log,
		ttl:    ttl,
		cache:  map[string]dirEntry{},
		now:    time.Now,
	}
	d.setAdminRolesLocked(adminRoles)
	return d
}

// SetAdminRoles swaps the admin role set and invalidates the cache.
// Called on config reload.
func (d *Directory) SetAdminRoles(roles []string) {
	d.mu.Lock()
	d.setAdminRolesLocked(roles)
	d.cache = map[string]dirEntry{}
	d.mu.Unlock()
}

func (d *Directory) setAdminRolesLocked(roles []string) {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r != "" {
			set[r] = struct{}{}
		}
	}
	d.admin = set
}

// GuildAdmins returns the user ids of non-bot members holding any admin
// role in the guild.
func (d *Directory) GuildAdmins(ctx context.Context, guildID string) ([]string, error) {
	d.mu.Lock()
	ent, ok := d.cache[guildID]
	fresh := ok && d.now().Sub(ent.fetched) < d.ttl
	d.mu.Unlock()
	if fresh {
		return append([]string(nil), ent.admins...), nil
	}

	members, err := d.lister.Members(ctx, guildID)
	if err != nil {
		if ok {
			d.log.Debug("member scan failed; serving stale admin list",
				logx.Err(err), logx.String("guild_id", guildID))
			return append([]string(nil), ent.admins...), nil
		}
		return nil, err
	}

	admins := d.filterAdmins(members)
	d.mu.Lock()
	d.cache[guildID] = dirEntry{admins: admins, fetched: d.now()}
	d.mu.Unlock()
	return append([]string(nil), admins...), nil
}

func (d *Directory) filterAdmins(members []kit.Member) []string {
	d.mu.Lock()
	set := d.admin
	d.mu.Unlock()

	var out []string
	for _, m := range members {
		if m.IsBot {
			continue
		}
		for _, r := range m.RoleIDs {
			if _, ok := set[r]; ok {
				out = append(out, m.UserID)
				break
			}
		}
	}
	return out
}
