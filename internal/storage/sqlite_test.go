package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "clubbot/pkg/logx"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		db, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if db != nil {
			t.Fatalf("Open(%q) = %v, want nil", driver, db)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestEventsAppendAndFilter(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	events := []SecurityEvent{
		{Type: "command_execution", UserID: "u1", Username: "alice", GuildID: "g1", ChannelID: "c1", Command: "ping", Severity: "low", At: base},
		{Type: "rate_limit_exceeded", UserID: "u1", Username: "alice", GuildID: "g1", Command: "ping", Severity: "medium", At: base.Add(time.Second)},
		{Type: "suspicious_activity", UserID: "u2", Username: "bob", GuildID: "g1", Severity: "high", At: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := db.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent error: %v", err)
		}
	}

	all, err := db.RecentEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("RecentEvents error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Type != "suspicious_activity" {
		t.Fatalf("newest first: got %s", all[0].Type)
	}
	if all[0].GuildID != "g1" || all[0].Command != "" {
		t.Fatalf("nullable columns mismatched: %+v", all[0])
	}

	highs, err := db.RecentEvents(ctx, EventFilter{Severity: "high"})
	if err != nil {
		t.Fatalf("RecentEvents error: %v", err)
	}
	if len(highs) != 1 || highs[0].UserID != "u2" {
		t.Fatalf("severity filter: %+v", highs)
	}

	typed, err := db.RecentEvents(ctx, EventFilter{Type: "command_execution", Limit: 1})
	if err != nil {
		t.Fatalf("RecentEvents error: %v", err)
	}
	if len(typed) != 1 || typed[0].Command != "ping" {
		t.Fatalf("type filter: %+v", typed)
	}
}

func TestEventsCountAndRetention(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 5; i++ {
		e := SecurityEvent{
			Type: "command_execution", UserID: "u1", Username: "alice",
			Severity: "low", At: base.Add(time.Duration(i) * time.Hour),
		}
		if err := db.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent error: %v", err)
		}
	}

	n, err := db.CountEventsSince(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("CountEventsSince error: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}

	deleted, err := db.DeleteEventsBefore(ctx, base.Add(2*time.Hour)) // strictly older
	if err != nil {
		t.Fatalf("DeleteEventsBefore error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	left, err := db.RecentEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("RecentEvents error: %v", err)
	}
	if len(left) != 3 {
		t.Fatalf("left = %d, want 3", len(left))
	}
}

func TestMemberUpsertPreservesFee(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	m := MemberRecord{UserID: "u1", Username: "alice", Roles: []string{"r1", "r2"}}
	if err := db.UpsertMember(ctx, m); err != nil {
		t.Fatalf("UpsertMember error: %v", err)
	}
	if err := db.SetFeePaidThrough(ctx, "u1", "2026-08"); err != nil {
		t.Fatalf("SetFeePaidThrough error: %v", err)
	}

	// roster refresh must not wipe the paid-through month
	m.Username = "alice2"
	if err := db.UpsertMember(ctx, m); err != nil {
		t.Fatalf("UpsertMember error: %v", err)
	}

	got, ok, err := db.Member(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Member = ok:%v err:%v", ok, err)
	}
	if got.Username != "alice2" {
		t.Fatalf("Username = %s, want alice2", got.Username)
	}
	if got.FeePaidThrough != "2026-08" {
		t.Fatalf("FeePaidThrough = %q, want 2026-08", got.FeePaidThrough)
	}
	if len(got.Roles) != 2 || got.Roles[0] != "r1" {
		t.Fatalf("Roles = %v", got.Roles)
	}
}

func TestSetFeePaidThroughMissingMember(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	err := db.SetFeePaidThrough(context.Background(), "ghost", "2026-01")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListMembersOrdered(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		if err := db.UpsertMember(ctx, MemberRecord{UserID: id, Username: id}); err != nil {
			t.Fatalf("UpsertMember error: %v", err)
		}
	}
	got, err := db.ListMembers(ctx)
	if err != nil {
		t.Fatalf("ListMembers error: %v", err)
	}
	if len(got) != 3 || got[0].UserID != "a" || got[2].UserID != "c" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestPollLifecycle(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	closes := time.Now().Add(-time.Minute) // already due

	id, err := db.CreatePoll(ctx, Poll{
		GuildID: "g1", ChannelID: "c1", CreatorID: "u1",
		Question: "ride this weekend?", Options: []string{"sat", "sun", "skip"},
		ClosesAt: closes,
	})
	if err != nil {
		t.Fatalf("CreatePoll error: %v", err)
	}

	if err := db.CastVote(ctx, id, "u1", 0); err != nil {
		t.Fatalf("CastVote error: %v", err)
	}
	if err := db.CastVote(ctx, id, "u2", 1); err != nil {
		t.Fatalf("CastVote error: %v", err)
	}
	// revote replaces, not adds
	if err := db.CastVote(ctx, id, "u1", 1); err != nil {
		t.Fatalf("CastVote error: %v", err)
	}

	counts, err := db.VoteCounts(ctx, id)
	if err != nil {
		t.Fatalf("VoteCounts error: %v", err)
	}
	if counts[0] != 0 || counts[1] != 2 {
		t.Fatalf("counts = %v, want option 1 -> 2", counts)
	}

	due, err := db.DuePolls(ctx, time.Now())
	if err != nil {
		t.Fatalf("DuePolls error: %v", err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due = %+v", due)
	}
	if due[0].Options[2] != "skip" {
		t.Fatalf("options round trip: %v", due[0].Options)
	}

	if err := db.ClosePoll(ctx, id); err != nil {
		t.Fatalf("ClosePoll error: %v", err)
	}
	due, err = db.DuePolls(ctx, time.Now())
	if err != nil {
		t.Fatalf("DuePolls error: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("closed poll still due: %+v", due)
	}

	if err := db.ClosePoll(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDedupRoundTrip(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	if err := db.PutDedup(ctx, "k1", until); err != nil {
		t.Fatalf("PutDedup error: %v", err)
	}
	got, ok, err := db.GetDedup(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("GetDedup = ok:%v err:%v", ok, err)
	}
	if !got.Equal(until) {
		t.Fatalf("until = %v, want %v", got, until)
	}

	_, ok, err = db.GetDedup(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("missing key: ok:%v err:%v", ok, err)
	}
}
