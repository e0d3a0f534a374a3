package module

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"clubbot/internal/security"
	"clubbot/internal/storage"
	logx "clubbot/pkg/logx"
)

// eventStore is an in-memory security.EventStore.
type eventStore struct {
	mu      sync.Mutex
	rows    []storage.SecurityEvent
	deleted int64
}

func (s *eventStore) AppendEvent(ctx context.Context, e storage.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, e)
	return nil
}

func (s *eventStore) RecentEvents(ctx context.Context, f storage.EventFilter) ([]storage.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.SecurityEvent
	for _, r := range s.rows {
		if f.Severity != "" && r.Severity != f.Severity {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *eventStore) CountEventsSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), nil
}

func (s *eventStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted, nil
}

func testEngine(t *testing.T, store security.EventStore, rates security.RateConfig) *security.Engine {
	t.Helper()
	if rates.Default.Limit == 0 {
		rates.Default = security.RateRule{Limit: 5, Window: time.Minute}
	}
	eng, err := security.New(security.Config{Rates: rates}, store, nil, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestSecStatusCommand(t *testing.T) {
	eng := testEngine(t, &eventStore{}, security.RateConfig{})
	ad := &fakeAdapter{}

	if err := cmdSecStatus(context.Background(), testRequest(ad), Deps{Engine: eng}); err != nil {
		t.Fatal(err)
	}
	got := ad.last(t)
	if got.embed == nil {
		t.Fatal("expected an embed reply")
	}
	if len(got.embed.Fields) != 3 {
		t.Fatalf("embed fields = %d, want 3", len(got.embed.Fields))
	}
	if !strings.Contains(got.embed.Footer, "retention") {
		t.Fatalf("footer = %q", got.embed.Footer)
	}
}

func TestSecEventsCommand(t *testing.T) {
	store := &eventStore{rows: []storage.SecurityEvent{
		{ID: 1, Type: "rate_limit_exceeded", Severity: "medium", UserID: "1", Username: "alice", Command: "ping", At: time.Now()},
		{ID: 2, Type: "suspicious_activity", Severity: "high", UserID: "2", Username: "bob", Command: "help", At: time.Now()},
	}}
	eng := testEngine(t, store, security.RateConfig{})
	ad := &fakeAdapter{}

	if err := cmdSecEvents(context.Background(), testRequest(ad), Deps{Engine: eng}); err != nil {
		t.Fatal(err)
	}
	got := ad.last(t).text
	if !strings.Contains(got, "rate_limit_exceeded") || !strings.Contains(got, "suspicious_activity") {
		t.Fatalf("reply = %q", got)
	}

	// severity flag narrows the listing
	req := testRequest(ad)
	req.Flags["severity"] = "high"
	if err := cmdSecEvents(context.Background(), req, Deps{Engine: eng}); err != nil {
		t.Fatal(err)
	}
	got = ad.last(t).text
	if strings.Contains(got, "rate_limit_exceeded") || !strings.Contains(got, "suspicious_activity") {
		t.Fatalf("filtered reply = %q", got)
	}
}

func TestSecEventsBadLimit(t *testing.T) {
	eng := testEngine(t, &eventStore{}, security.RateConfig{})
	ad := &fakeAdapter{}

	if err := cmdSecEvents(context.Background(), testRequest(ad, "zero"), Deps{Engine: eng}); err != nil {
		t.Fatal(err)
	}
	if got := ad.last(t).text; !strings.Contains(got, "usage:") {
		t.Fatalf("reply = %q", got)
	}
}

func TestSecRetentionCommand(t *testing.T) {
	store := &eventStore{deleted: 7}
	eng := testEngine(t, store, security.RateConfig{})
	ad := &fakeAdapter{}
	ctx := context.Background()

	if err := cmdSecRetention(ctx, testRequest(ad), Deps{Engine: eng}); err != nil {
		t.Fatal(err)
	}
	if got := ad.last(t).text; !strings.Contains(got, "default retention") {
		t.Fatalf("reply = %q", got)
	}

	if err := cmdSecRetention(ctx, testRequest(ad, "0"), Deps{Engine: eng}); err != nil {
		t.Fatal(err)
	}
	if got := ad.last(t).text; !strings.Contains(got, "positive number") {
		t.Fatalf("reply = %q", got)
	}

	if err := cmdSecRetention(ctx, testRequest(ad, "30"), Deps{Engine: eng}); err != nil {
		t.Fatal(err)
	}
	if got := ad.last(t).text; !strings.Contains(got, "purged 7 event(s)") {
		t.Fatalf("reply = %q", got)
	}
}

func TestSecLimitsCommand(t *testing.T) {
	eng := testEngine(t, &eventStore{}, security.RateConfig{
		Default:  security.RateRule{Limit: 5, Window: time.Minute},
		Commands: map[string]security.RateRule{"ping": {Limit: 10, Window: time.Minute}},
	})
	ad := &fakeAdapter{}

	if err := cmdSecLimits(context.Background(), testRequest(ad), Deps{Engine: eng}); err != nil {
		t.Fatal(err)
	}
	got := ad.last(t).text
	if !strings.Contains(got, "default: 5 per 1m0s") || !strings.Contains(got, "ping: 10 per 1m0s") {
		t.Fatalf("reply = %q", got)
	}
}

func TestSecReportCommand(t *testing.T) {
	store := &eventStore{}
	eng := testEngine(t, store, security.RateConfig{})
	ad := &fakeAdapter{}

	if err := cmdSecReport(context.Background(), testRequest(ad, "<@999>", "sharing", "invites"), Deps{Engine: eng}); err != nil {
		t.Fatal(err)
	}
	if got := ad.last(t).text; !strings.Contains(got, "report recorded") {
		t.Fatalf("reply = %q", got)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.rows) != 1 {
		t.Fatalf("stored events = %d, want 1", len(store.rows))
	}
	row := store.rows[0]
	if row.UserID != "999" || row.Severity != string(security.SeverityCritical) {
		t.Fatalf("stored event = %+v", row)
	}
	if !strings.Contains(row.Details, "sharing invites") {
		t.Fatalf("details = %q", row.Details)
	}
}

func TestSecCommandsNilEngine(t *testing.T) {
	ad := &fakeAdapter{}
	if err := cmdSecStatus(context.Background(), testRequest(ad), Deps{}); err != nil {
		t.Fatal(err)
	}
	if got := ad.last(t).text; !strings.Contains(got, "unavailable") {
		t.Fatalf("reply = %q", got)
	}
}
