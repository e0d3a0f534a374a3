package club

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"clubbot/internal/storage"
	kit "clubbot/internal/transport"
	logx "clubbot/pkg/logx"
)

type memStore struct {
	members map[string]storage.MemberRecord
	polls   map[int64]storage.Poll
	votes   map[int64]map[string]int
	nextID  int64
}

func newMemStore() *memStore {
	return &memStore{
		members: map[string]storage.MemberRecord{},
		polls:   map[int64]storage.Poll{},
		votes:   map[int64]map[string]int{},
	}
}

func (m *memStore) Member(ctx context.Context, userID string) (storage.MemberRecord, bool, error) {
	rec, ok := m.members[userID]
	return rec, ok, nil
}

func (m *memStore) ListMembers(ctx context.Context) ([]storage.MemberRecord, error) {
	out := make([]storage.MemberRecord, 0, len(m.members))
	for _, rec := range m.members {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) SetFeePaidThrough(ctx context.Context, userID, month string) error {
	rec, ok := m.members[userID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.FeePaidThrough = month
	m.members[userID] = rec
	return nil
}

func (m *memStore) CreatePoll(ctx context.Context, p storage.Poll) (int64, error) {
	m.nextID++
	p.ID = m.nextID
	m.polls[p.ID] = p
	return p.ID, nil
}

func (m *memStore) GetPoll(ctx context.Context, id int64) (storage.Poll, bool, error) {
	p, ok := m.polls[id]
	return p, ok, nil
}

func (m *memStore) DuePolls(ctx context.Context, now time.Time) ([]storage.Poll, error) {
	var out []storage.Poll
	for _, p := range m.polls {
		if !p.Closed && !p.ClosesAt.IsZero() && !p.ClosesAt.After(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) CastVote(ctx context.Context, pollID int64, userID string, option int) error {
	if m.votes[pollID] == nil {
		m.votes[pollID] = map[string]int{}
	}
	m.votes[pollID][userID] = option
	return nil
}

func (m *memStore) VoteCounts(ctx context.Context, pollID int64) (map[int]int, error) {
	out := map[int]int{}
	for _, opt := range m.votes[pollID] {
		out[opt]++
	}
	return out, nil
}

func (m *memStore) ClosePoll(ctx context.Context, id int64) error {
	p, ok := m.polls[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Closed = true
	m.polls[id] = p
	return nil
}

type captureNotifier struct {
	sent []kit.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, n kit.Notification) error {
	c.sent = append(c.sent, n)
	return nil
}

type captureBroadcaster struct {
	name    string
	userIDs []string
	text    string
	jobs    int
}

func (c *captureBroadcaster) NewJob(name string, userIDs []string, text string) string {
	c.name = name
	c.userIDs = append([]string(nil), userIDs...)
	c.text = text
	c.jobs++
	return "bc:1"
}

func newTestService(store Store, notify Notifier, bcast Broadcaster, at time.Time) *Service {
	s := New(Config{
		GuildID:         "g1",
		AnnounceChannel: "ann",
		FeeEnabled:      true,
		FeeAmount:       "Rp50.000",
		FeeDueDay:       5,
	}, store, notify, bcast, logx.Nop())
	s.now = func() time.Time { return at }
	return s
}

func TestFeeStatus(t *testing.T) {
	st := newMemStore()
	st.members["paid"] = storage.MemberRecord{UserID: "paid", Username: "alice", FeePaidThrough: "2026-09"}
	st.members["lapsed"] = storage.MemberRecord{UserID: "lapsed", Username: "bob", FeePaidThrough: "2026-07"}
	svc := newTestService(st, nil, nil, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))

	got, err := svc.FeeStatus(context.Background(), "paid")
	if err != nil {
		t.Fatalf("FeeStatus: %v", err)
	}
	if !got.Paid || got.Month != "2026-08" || got.Amount != "Rp50.000" {
		t.Fatalf("status = %+v", got)
	}

	got, err = svc.FeeStatus(context.Background(), "lapsed")
	if err != nil {
		t.Fatalf("FeeStatus: %v", err)
	}
	if got.Paid {
		t.Fatal("lapsed member reported as paid")
	}

	if _, err := svc.FeeStatus(context.Background(), "ghost"); !errors.Is(err, ErrMemberUnknown) {
		t.Fatalf("unknown member err = %v, want ErrMemberUnknown", err)
	}
}

func TestMarkFeePaid(t *testing.T) {
	now := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		before string
		months int
		want   string
	}{
		{"lapsed pays one", "", 1, "2026-08"},
		{"long lapsed pays one", "2025-03", 1, "2026-08"},
		{"current pays one", "2026-08", 1, "2026-09"},
		{"ahead pays two", "2026-09", 2, "2026-11"},
		{"across year end", "2026-11", 3, "2027-02"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemStore()
			st.members["u1"] = storage.MemberRecord{UserID: "u1", FeePaidThrough: tc.before}
			svc := newTestService(st, nil, nil, now)

			got, err := svc.MarkFeePaid(context.Background(), "u1", tc.months)
			if err != nil {
				t.Fatalf("MarkFeePaid: %v", err)
			}
			if got != tc.want {
				t.Fatalf("paid through = %q, want %q", got, tc.want)
			}
			if st.members["u1"].FeePaidThrough != tc.want {
				t.Fatalf("stored = %q, want %q", st.members["u1"].FeePaidThrough, tc.want)
			}
		})
	}
}

func TestMarkFeePaidValidatesMonths(t *testing.T) {
	st := newMemStore()
	st.members["u1"] = storage.MemberRecord{UserID: "u1"}
	svc := newTestService(st, nil, nil, time.Now())

	for _, months := range []int{0, -1, 25} {
		if _, err := svc.MarkFeePaid(context.Background(), "u1", months); err == nil {
			t.Fatalf("months=%d accepted, want error", months)
		}
	}
}

func TestRemindUnpaidTargetsOnlyUnpaid(t *testing.T) {
	st := newMemStore()
	st.members["a"] = storage.MemberRecord{UserID: "a", FeePaidThrough: "2026-08"}
	st.members["b"] = storage.MemberRecord{UserID: "b", FeePaidThrough: "2026-07"}
	st.members["c"] = storage.MemberRecord{UserID: "c"}
	notify := &captureNotifier{}
	bcast := &captureBroadcaster{}
	svc := newTestService(st, notify, bcast, time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC))

	jobID, n, err := svc.RemindUnpaid(context.Background())
	if err != nil {
		t.Fatalf("RemindUnpaid: %v", err)
	}
	if jobID != "bc:1" || n != 2 {
		t.Fatalf("job = %q recipients = %d, want bc:1 and 2", jobID, n)
	}
	if len(bcast.userIDs) != 2 {
		t.Fatalf("broadcast targets = %v", bcast.userIDs)
	}
	for _, id := range bcast.userIDs {
		if id == "a" {
			t.Fatal("paid member got a reminder")
		}
	}
	if !strings.Contains(bcast.text, "2026-08") || !strings.Contains(bcast.text, "Rp50.000") {
		t.Fatalf("reminder text = %q", bcast.text)
	}
	if len(notify.sent) != 1 || notify.sent[0].Target.ChannelID != "ann" {
		t.Fatalf("announce summary = %+v", notify.sent)
	}
}

func TestRemindUnpaidNoUnpaidMembers(t *testing.T) {
	st := newMemStore()
	st.members["a"] = storage.MemberRecord{UserID: "a", FeePaidThrough: "2026-08"}
	bcast := &captureBroadcaster{}
	svc := newTestService(st, nil, bcast, time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC))

	jobID, n, err := svc.RemindUnpaid(context.Background())
	if err != nil {
		t.Fatalf("RemindUnpaid: %v", err)
	}
	if jobID != "" || n != 0 || bcast.jobs != 0 {
		t.Fatalf("expected no job, got %q/%d/%d", jobID, n, bcast.jobs)
	}
}

func TestRemindIfDueRespectsDueDay(t *testing.T) {
	st := newMemStore()
	st.members["b"] = storage.MemberRecord{UserID: "b"}
	bcast := &captureBroadcaster{}

	svc := newTestService(st, nil, bcast, time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC))
	if err := svc.RemindIfDue(context.Background()); err != nil {
		t.Fatalf("RemindIfDue: %v", err)
	}
	if bcast.jobs != 0 {
		t.Fatal("reminder sent after the due day")
	}

	svc.now = func() time.Time { return time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC) }
	if err := svc.RemindIfDue(context.Background()); err != nil {
		t.Fatalf("RemindIfDue: %v", err)
	}
	if bcast.jobs != 1 {
		t.Fatalf("jobs = %d, want 1", bcast.jobs)
	}
}

func TestCreatePollValidation(t *testing.T) {
	svc := newTestService(newMemStore(), nil, nil, time.Now())
	ctx := context.Background()

	if _, err := svc.CreatePoll(ctx, "g", "c", "u", "  ", []string{"a", "b"}, 0); err == nil {
		t.Fatal("empty question accepted")
	}
	if _, err := svc.CreatePoll(ctx, "g", "c", "u", "q", []string{"only"}, 0); err == nil {
		t.Fatal("single option accepted")
	}
	many := make([]string, 11)
	for i := range many {
		many[i] = "x"
	}
	if _, err := svc.CreatePoll(ctx, "g", "c", "u", "q", many, 0); err == nil {
		t.Fatal("11 options accepted")
	}
	if _, err := svc.CreatePoll(ctx, "g", "c", "u", "q", []string{"a", "b"}, -time.Hour); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := svc.CreatePoll(ctx, "g", "c", "u", "q", []string{"a", "b"}, 31*24*time.Hour); err == nil {
		t.Fatal("over-long duration accepted")
	}
}

func TestPollVoteLifecycle(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil, nil, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	p, err := svc.CreatePoll(ctx, "g", "c", "creator", "Meet Friday?", []string{"yes", " no "}, time.Hour)
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if p.ID == 0 || len(p.Options) != 2 || p.Options[1] != "no" {
		t.Fatalf("poll = %+v", p)
	}

	if err := svc.Vote(ctx, p.ID, "u1", 1); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := svc.Vote(ctx, p.ID, "u2", 2); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	// Re-vote replaces the earlier choice.
	if err := svc.Vote(ctx, p.ID, "u2", 1); err != nil {
		t.Fatalf("Vote again: %v", err)
	}
	if err := svc.Vote(ctx, p.ID, "u3", 3); err == nil {
		t.Fatal("out-of-range choice accepted")
	}
	if err := svc.Vote(ctx, 999, "u1", 1); !errors.Is(err, ErrPollNotFound) {
		t.Fatalf("vote on missing poll err = %v", err)
	}

	res, err := svc.ShowPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("ShowPoll: %v", err)
	}
	if !reflect.DeepEqual(res.Counts, []int{2, 0}) || res.Total != 2 {
		t.Fatalf("counts = %v total = %d", res.Counts, res.Total)
	}
}

func TestClosePoll(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, nil, nil, time.Now())
	ctx := context.Background()

	p, err := svc.CreatePoll(ctx, "g", "c", "creator", "q", []string{"a", "b"}, 0)
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if err := svc.Vote(ctx, p.ID, "u1", 2); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	res, err := svc.ClosePoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("ClosePoll: %v", err)
	}
	if !res.Poll.Closed || res.Counts[1] != 1 {
		t.Fatalf("result = %+v", res)
	}

	if _, err := svc.ClosePoll(ctx, p.ID); !errors.Is(err, ErrPollClosed) {
		t.Fatalf("second close err = %v, want ErrPollClosed", err)
	}
	if err := svc.Vote(ctx, p.ID, "u2", 1); !errors.Is(err, ErrPollClosed) {
		t.Fatalf("vote on closed err = %v, want ErrPollClosed", err)
	}
}

func TestCloseDuePollsAnnounces(t *testing.T) {
	at := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	st := newMemStore()
	notify := &captureNotifier{}
	svc := newTestService(st, notify, nil, at.Add(-2*time.Hour))

	// One poll past deadline, one still open.
	due, err := svc.CreatePoll(context.Background(), "g", "chan-due", "u", "due?", []string{"a", "b"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreatePoll(context.Background(), "g", "chan-later", "u", "later?", []string{"a", "b"}, 48*time.Hour); err != nil {
		t.Fatal(err)
	}

	svc.now = func() time.Time { return at }
	closed, err := svc.CloseDuePolls(context.Background())
	if err != nil {
		t.Fatalf("CloseDuePolls: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	if !st.polls[due.ID].Closed {
		t.Fatal("due poll not closed in store")
	}
	if len(notify.sent) != 1 || notify.sent[0].Target.ChannelID != "chan-due" {
		t.Fatalf("announcements = %+v", notify.sent)
	}
	if !strings.Contains(notify.sent[0].Text, "due?") {
		t.Fatalf("announcement text = %q", notify.sent[0].Text)
	}
}

func TestFormatPollResult(t *testing.T) {
	r := PollResult{
		Poll: storage.Poll{
			ID:       3,
			Question: "Meet Friday?",
			Options:  []string{"yes", "no"},
			Closed:   true,
		},
		Counts: []int{2, 1},
		Total:  3,
	}
	want := "📊 poll #3 (closed): Meet Friday?\n1) yes: 2\n2) no: 1\ntotal votes: 3"
	if got := FormatPollResult(r); got != want {
		t.Fatalf("FormatPollResult = %q, want %q", got, want)
	}
}
