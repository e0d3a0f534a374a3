package roster

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kit "clubbot/internal/transport"
)

func TestParseCSVHeaderMapping(t *testing.T) {
	in := strings.Join([]string{
		"username,user_id,joined,display_name",
		"alice,100,2024-02-01,Alice A",
		"bob,200,,",
		",300,bad-date,",
	}, "\n")

	entries, err := parseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}

	a := entries[0]
	if a.UserID != "100" || a.Username != "alice" || a.DisplayName != "Alice A" {
		t.Fatalf("first entry = %+v", a)
	}
	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if !a.JoinedAt.Equal(want) {
		t.Fatalf("joined = %v, want %v", a.JoinedAt, want)
	}
	if !entries[1].JoinedAt.IsZero() {
		t.Fatalf("empty joined should stay zero, got %v", entries[1].JoinedAt)
	}
	// Unparseable dates are dropped, the row survives.
	if entries[2].UserID != "300" || !entries[2].JoinedAt.IsZero() {
		t.Fatalf("third entry = %+v", entries[2])
	}
}

func TestParseCSVSkipsRowsWithoutUserID(t *testing.T) {
	in := "user_id,username\n,ghost\n42,real\n"
	entries, err := parseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "42" {
		t.Fatalf("entries = %+v, want single user 42", entries)
	}
}

func TestParseCSVMissingUserIDColumn(t *testing.T) {
	if _, err := parseCSV(strings.NewReader("username\nalice\n")); err == nil {
		t.Fatal("expected error for header without user_id")
	}
}

func TestParseCSVEmptyFile(t *testing.T) {
	entries, err := parseCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestGuildSourceSkipsBots(t *testing.T) {
	lister := &fakeLister{members: []kit.Member{
		{UserID: "1", Username: "alice"},
		{UserID: "2", Username: "bot", IsBot: true},
	}}
	entries, err := GuildSource{Lister: lister, GuildID: "g1"}.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "1" || entries[0].Username != "alice" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestFileSourceFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.csv")
	if err := os.WriteFile(path, []byte("user_id,username\n7,alice\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := FileSource{Path: path}.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 1 || entries[0].Username != "alice" {
		t.Fatalf("entries = %+v", entries)
	}

	if _, err := (FileSource{Path: filepath.Join(t.TempDir(), "missing.csv")}).Fetch(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
