package security

import (
	"fmt"
	"sync"
	"time"
)

// RateRule is one fixed-window rule.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateConfig is the static rate-limit table. Commands absent from the
// table silently use Default; that keeps new commands deployable
// without touching the limiter.
type RateConfig struct {
	Default  RateRule
	Commands map[string]RateRule
}

func (c RateConfig) validate() error {
	if err := c.Default.validate(); err != nil {
		return fmt.Errorf("rate limit default: %w", err)
	}
	for name, r := range c.Commands {
		if err := r.validate(); err != nil {
			return fmt.Errorf("rate limit for %q: %w", name, err)
		}
	}
	return nil
}

func (r RateRule) validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("limit must be > 0, got %d", r.Limit)
	}
	if r.Window <= 0 {
		return fmt.Errorf("window must be > 0, got %s", r.Window)
	}
	return nil
}

// RateResult reports one admit/reject decision.
type RateResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type rateKey struct {
	userID  string
	command string
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

// rateLimiter holds fixed-window counters per (user, command) key.
//
// Fixed window on purpose: O(1) state per key and trivial correctness
// reasoning. A burst straddling a window boundary can momentarily pass
// up to 2x the nominal limit; the tests document that boundary.
type rateLimiter struct {
	mu      sync.Mutex
	rules   RateConfig
	entries map[rateKey]*rateEntry
	now     func() time.Time
}

func newRateLimiter(rules RateConfig, now func() time.Time) *rateLimiter {
	return &rateLimiter{
		rules:   rules,
		entries: make(map[rateKey]*rateEntry),
		now:     now,
	}
}

// rule resolves the effective rule for a command.
func (l *rateLimiter) rule(command string) RateRule {
	if r, ok := l.rules.Commands[command]; ok {
		return r
	}
	return l.rules.Default
}

// check admits or rejects one invocation. The count mutation and the
// decision happen under one lock acquisition; nothing in here blocks.
func (l *rateLimiter) check(userID, command string) RateResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.rule(command)
	now := l.now()
	key := rateKey{userID: userID, command: command}

	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		// First call in a window, or the old window expired: replace,
		// never increment an expired entry.
		e = &rateEntry{count: 1, resetAt: now.Add(r.Window)}
		l.entries[key] = e
		return RateResult{Allowed: true, Remaining: r.Limit - 1, ResetAt: e.resetAt}
	}

	if e.count >= r.Limit {
		return RateResult{Allowed: false, Remaining: 0, ResetAt: e.resetAt}
	}

	e.count++
	return RateResult{Allowed: true, Remaining: r.Limit - e.count, ResetAt: e.resetAt}
}

// setRules swaps the table on config reload. Existing counters keep
// their windows; only future lookups see the new rules.
func (l *rateLimiter) setRules(rules RateConfig) {
	l.mu.Lock()
	l.rules = rules
	l.mu.Unlock()
}

// snapshotRules returns a copy for display.
func (l *rateLimiter) snapshotRules() RateConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := RateConfig{Default: l.rules.Default}
	if len(l.rules.Commands) > 0 {
		out.Commands = make(map[string]RateRule, len(l.rules.Commands))
		for k, v := range l.rules.Commands {
			out.Commands[k] = v
		}
	}
	return out
}

// sweep drops expired entries and reports how many went away. Safe to
// run concurrently with check; evicting an entry a concurrent call is
// about to replace is harmless.
func (l *rateLimiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for k, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// stats returns (unexpired, tracked) entry counts.
func (l *rateLimiter) stats() (active, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	total = len(l.entries)
	for _, e := range l.entries {
		if now.Before(e.resetAt) {
			active++
		}
	}
	return active, total
}
