package roster

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	kit "clubbot/internal/transport"
	logx "clubbot/pkg/logx"
)

type fakeLister struct {
	members []kit.Member
	err     error
	calls   int
}

func (f *fakeLister) Members(ctx context.Context, guildID string) ([]kit.Member, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.members, nil
}

func TestGuildAdminsFiltersByRoleAndBot(t *testing.T) {
	lister := &fakeLister{members: []kit.Member{
		{UserID: "1", RoleIDs: []string{"admin"}},
		{UserID: "2", RoleIDs: []string{"member"}},
		{UserID: "3", RoleIDs: []string{"member", "admin"}},
		{UserID: "4", RoleIDs: []string{"admin"}, IsBot: true},
	}}
	d := NewDirectory(lister, []string{"admin"}, time.Minute, logx.Nop())

	got, err := d.GuildAdmins(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GuildAdmins: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"1", "3"}) {
		t.Fatalf("admins = %v, want [1 3]", got)
	}
}

func TestGuildAdminsCachesWithinTTL(t *testing.T) {
	lister := &fakeLister{members: []kit.Member{{UserID: "1", RoleIDs: []string{"admin"}}}}
	d := NewDirectory(lister, []string{"admin"}, time.Minute, logx.Nop())

	base := time.Now()
	d.now = func() time.Time { return base }

	if _, err := d.GuildAdmins(context.Background(), "g1"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GuildAdmins(context.Background(), "g1"); err != nil {
		t.Fatal(err)
	}
	if lister.calls != 1 {
		t.Fatalf("lister calls = %d, want 1 (cached)", lister.calls)
	}

	// Past the TTL the scan runs again.
	d.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := d.GuildAdmins(context.Background(), "g1"); err != nil {
		t.Fatal(err)
	}
	if lister.calls != 2 {
		t.Fatalf("lister calls = %d, want 2 (expired)", lister.calls)
	}
}

func TestGuildAdminsServesStaleOnError(t *testing.T) {
	lister := &fakeLister{members: []kit.Member{{UserID: "1", RoleIDs: []string{"admin"}}}}
	d := NewDirectory(lister, []string{"admin"}, time.Minute, logx.Nop())

	base := time.Now()
	d.now = func() time.Time { return base }
	if _, err := d.GuildAdmins(context.Background(), "g1"); err != nil {
		t.Fatal(err)
	}

	lister.err = errors.New("gateway down")
	d.now = func() time.Time { return base.Add(time.Hour) }
	got, err := d.GuildAdmins(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GuildAdmins with stale cache: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("stale admins = %v, want [1]", got)
	}

	// No cache at all: the error surfaces.
	if _, err := d.GuildAdmins(context.Background(), "g2"); err == nil {
		t.Fatal("expected error for uncached guild")
	}
}

func TestSetAdminRolesInvalidatesCache(t *testing.T) {
	lister := &fakeLister{members: []kit.Member{
		{UserID: "1", RoleIDs: []string{"admin"}},
		{UserID: "2", RoleIDs: []string{"mod"}},
	}}
	d := NewDirectory(lister, []string{"admin"}, time.Minute, logx.Nop())

	got, err := d.GuildAdmins(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("admins = %v, want [1]", got)
	}

	d.SetAdminRoles([]string{"mod"})
	got, err = d.GuildAdmins(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"2"}) {
		t.Fatalf("admins after role swap = %v, want [2]", got)
	}
	if lister.calls != 2 {
		t.Fatalf("lister calls = %d, want 2", lister.calls)
	}
}
