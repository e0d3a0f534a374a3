package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "clubbot/internal/transport"
	logx "clubbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []string
	dms     map[string][]string
	failN   int // fail this many sends before succeeding
	attempt int
	gate    chan struct{} // when non-nil, sends block until the gate closes
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := f.send(ctx, "", text); err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChannelID: to.ChannelID, MessageID: "m1"}, nil
}

func (f *fakeAdapter) SendDM(ctx context.Context, userID, text string) error {
	return f.send(ctx, userID, text)
}

func (f *fakeAdapter) send(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	gate := f.gate
	f.attempt++
	fail := f.attempt <= f.failN
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("send failed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if userID == "" {
		f.texts = append(f.texts, text)
	} else {
		if f.dms == nil {
			f.dms = map[string][]string{}
		}
		f.dms[userID] = append(f.dms[userID], text)
	}
	return nil
}

func (f *fakeAdapter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempt
}

func (f *fakeAdapter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeAdapter) sentDMs(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dms[userID]...)
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNotifyDisabled(t *testing.T) {
	s := New(Config{Enabled: false}, &fakeAdapter{}, logx.Nop(), nil, nil)
	err := s.Notify(context.Background(), kit.Notification{Channel: "discord", Text: "hi"})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify err = %v, want ErrDisabled", err)
	}
}

func TestNotifyBeforeStart(t *testing.T) {
	s := New(Config{Enabled: true}, &fakeAdapter{}, logx.Nop(), nil, nil)
	err := s.Notify(context.Background(), kit.Notification{Channel: "discord", Text: "hi"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify err = %v, want ErrStopped", err)
	}
}

func TestSendDeliversChannelAndDM(t *testing.T) {
	ad := &fakeAdapter{}
	s := New(Config{Enabled: true, RatePerMin: 6000}, ad, logx.Nop(), nil, nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	if err := s.Notify(context.Background(), kit.Notification{Channel: "discord", Target: kit.ChatTarget{ChannelID: "c1"}, Text: "channel msg"}); err != nil {
		t.Fatalf("Notify channel: %v", err)
	}
	if err := s.Notify(context.Background(), kit.Notification{Channel: "discord", UserID: "u1", Text: "dm msg"}); err != nil {
		t.Fatalf("Notify dm: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(ad.sentTexts()) == 1 && len(ad.sentDMs("u1")) == 1
	})
	if got := ad.sentTexts()[0]; got != "channel msg" {
		t.Fatalf("channel text = %q, want %q", got, "channel msg")
	}
	if got := ad.sentDMs("u1")[0]; got != "dm msg" {
		t.Fatalf("dm text = %q, want %q", got, "dm msg")
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	ad := &fakeAdapter{failN: 1}
	s := New(Config{
		Enabled:       true,
		RatePerMin:    6000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}, ad, logx.Nop(), nil, nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	if err := s.Notify(context.Background(), kit.Notification{Channel: "discord", UserID: "u1", Text: "hello"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(ad.sentDMs("u1")) == 1 })
	if got := ad.calls(); got != 2 {
		t.Fatalf("adapter calls = %d, want 2", got)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	gate := make(chan struct{})
	ad := &fakeAdapter{gate: gate}
	s := New(Config{Enabled: true, Workers: 2, QueueSize: 1, RatePerMin: 6000}, ad, logx.Nop(), nil, nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		close(gate)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	// Fill both workers, then the queue, then expect rejection.
	for i := 0; i < 2; i++ {
		if err := s.Notify(context.Background(), kit.Notification{Channel: "discord", UserID: "u1", Text: "blocked"}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return ad.calls() == 2 })
	if err := s.Notify(context.Background(), kit.Notification{Channel: "discord", UserID: "u1", Text: "queued"}); err != nil {
		t.Fatalf("Notify queued: %v", err)
	}
	err := s.Notify(context.Background(), kit.Notification{Channel: "discord", UserID: "u1", Text: "overflow"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Notify err = %v, want ErrQueueFull", err)
	}
}

func TestDedupSuppressesRepeat(t *testing.T) {
	s := New(Config{Enabled: true, DedupWindow: time.Minute}, &fakeAdapter{}, logx.Nop(), nil, nil)
	key := dedupKey(kit.Notification{Channel: "discord", UserID: "u1", Text: "reminder"})
	if key == "" {
		t.Fatal("expected non-empty dedup key")
	}
	if !s.dedupAllow(context.Background(), key, time.Minute, 100, false, nil, nil) {
		t.Fatal("first dedupAllow = false, want true")
	}
	if s.dedupAllow(context.Background(), key, time.Minute, 100, false, nil, nil) {
		t.Fatal("second dedupAllow = true, want false")
	}
}

func TestDedupKey(t *testing.T) {
	a := kit.Notification{Channel: "discord", UserID: "u1", Text: "reminder"}
	b := kit.Notification{Channel: "discord", UserID: "u1", Text: "reminder"}
	c := kit.Notification{Channel: "discord", UserID: "u2", Text: "reminder"}
	if dedupKey(a) != dedupKey(b) {
		t.Fatal("identical notifications should share a key")
	}
	if dedupKey(a) == dedupKey(c) {
		t.Fatal("different recipients should not share a key")
	}
	if got := dedupKey(kit.Notification{Text: "no channel"}); got != "" {
		t.Fatalf("dedupKey without channel = %q, want empty", got)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("retryDelay(attempt=%d) = %v, want within [0, %v]", attempt, d, cfg.RetryMaxDelay)
		}
	}
}

func TestPrefixForPriority(t *testing.T) {
	cases := []struct {
		priority int
		want     string
	}{
		{0, ""},
		{4, ""},
		{5, "ℹ️ "},
		{7, "⚠️ "},
		{9, "🚨 "},
	}
	for _, tc := range cases {
		if got := prefixForPriority(tc.priority); got != tc.want {
			t.Fatalf("prefixForPriority(%d) = %q, want %q", tc.priority, got, tc.want)
		}
	}
}
