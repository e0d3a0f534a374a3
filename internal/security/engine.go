package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clubbot/internal/eventbus"
	"clubbot/internal/storage"
	logx "clubbot/pkg/logx"
)

// Denial reasons produced by the engine itself (the evaluator owns the
// permission reasons).
const (
	ReasonSuspicious = "slow down, you're sending commands too fast"
	ReasonInternal   = "security check failed, try again later"
)

// recentEventWindow is the stats window for RecentSecurityEventCount.
const recentEventWindow = 24 * time.Hour

// Config is the engine's startup configuration, validated by New and
// by Apply on hot reload.
type Config struct {
	Policy GuildPolicy
	Rates  RateConfig

	// EventRetention is the default age for the operator retention
	// cleanup when no explicit age is given. Zero means 30 days.
	EventRetention time.Duration
}

func (c Config) Validate() error {
	if err := c.Rates.validate(); err != nil {
		return err
	}
	if c.EventRetention < 0 {
		return fmt.Errorf("event retention must be >= 0, got %s", c.EventRetention)
	}
	return nil
}

// Engine is the security facade the dispatcher consults once per
// incoming command. One instance per process, constructed at startup
// and passed by handle; there is no package-level state.
type Engine struct {
	// mu guards eval and retention across hot reloads. The limiter and
	// detector carry their own locks so each check is atomic on its own.
	mu        sync.RWMutex
	eval      *Evaluator
	retention time.Duration

	limiter  *rateLimiter
	detector *detector

	rec recorder
	log logx.Logger
	now func() time.Time
}

type Option func(*Engine)

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine. store, esc and bus may each be nil: a nil store
// skips durable writes (still logged locally), a nil escalator skips
// operator DMs, a nil bus skips publishing.
func New(cfg Config, store EventStore, esc *Escalator, bus eventbus.Bus, log logx.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("security config: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	eng := &Engine{
		eval:      NewEvaluator(cfg.Policy),
		log:       log,
		now:       time.Now,
		retention: cfg.EventRetention,
	}
	for _, opt := range opts {
		opt(eng)
	}
	eng.limiter = newRateLimiter(cfg.Rates, eng.now)
	eng.detector = newDetector(eng.now)
	eng.rec = recorder{store: store, esc: esc, bus: bus, log: log}
	if eng.retention <= 0 {
		eng.retention = 30 * 24 * time.Hour
	}
	return eng, nil
}

// Authorize runs the admission pipeline for one invocation: rate limit,
// then suspicion, then permissions; the first denial is final for the
// call. The verdict is committed to in-memory state before any I/O, and
// the event write is awaited so the record is durable by the time the
// dispatcher acts on the verdict.
func (eng *Engine) Authorize(ctx context.Context, cc CallerContext, req Requirement) Verdict {
	verdict, ev := eng.decide(cc, req)
	if ev.Type != "" {
		eng.rec.record(ctx, ev)
	}
	return verdict
}

// decide is the no-I/O decision path. Any panic in here fails closed:
// deny with a generic reason, log at error level, emit no event.
func (eng *Engine) decide(cc CallerContext, req Requirement) (v Verdict, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			eng.log.Error("security decision panicked",
				logx.Any("panic", p),
				logx.String("command", cc.Command),
				logx.String("user_id", cc.UserID),
			)
			v = Verdict{Allowed: false, Reason: ReasonInternal}
			ev = Event{}
		}
	}()

	now := eng.now()

	res := eng.limiter.check(cc.UserID, cc.Command)
	if !res.Allowed {
		reason := fmt.Sprintf("rate limit reached, retry after %s", retryAfter(res.ResetAt.Sub(now)))
		return Verdict{Reason: reason}, eng.newEvent(cc, EventRateLimitExceeded, SeverityMedium, map[string]any{
			"reset_at_ms": res.ResetAt.UnixMilli(),
		})
	}

	flagged, count := eng.detector.recordAndCheck(cc.UserID)
	if flagged {
		return Verdict{Reason: ReasonSuspicious}, eng.newEvent(cc, EventSuspiciousActivity, SeverityHigh, map[string]any{
			"count":     count,
			"window_ms": suspicionBucket.Milliseconds(),
		})
	}

	pv := eng.evaluator().Evaluate(cc, req)
	if !pv.Allowed {
		return pv, eng.newEvent(cc, EventPermissionDenied, SeverityMedium, map[string]any{
			"reason": pv.Reason,
			"level":  string(req.Level),
		})
	}

	return Verdict{Allowed: true}, eng.newEvent(cc, EventCommandExecution, SeverityLow, nil)
}

func (eng *Engine) evaluator() *Evaluator {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	return eng.eval
}

func (eng *Engine) newEvent(cc CallerContext, typ EventType, sev Severity, details map[string]any) Event {
	return Event{
		Type:      typ,
		UserID:    cc.UserID,
		Username:  cc.Username,
		GuildID:   cc.GuildID,
		ChannelID: cc.ChannelID,
		Command:   cc.Command,
		Details:   details,
		Severity:  sev,
		At:        eng.now(),
	}
}

// retryAfter renders a denial wait as a short duration, rounded up to
// whole seconds and never below 1s.
func retryAfter(d time.Duration) string {
	if d < time.Second {
		return "1s"
	}
	d = (d + time.Second - 1).Truncate(time.Second)
	return d.String()
}

// Stats snapshots the engine state for status reports. The store count
// is best effort; a read failure leaves the field at zero.
func (eng *Engine) Stats(ctx context.Context) Stats {
	active, total := eng.limiter.stats()
	s := Stats{
		ActiveRateLimits:        active,
		TotalRateLimits:         total,
		SuspiciousActivityCount: eng.detector.size(),
	}
	if eng.rec.store != nil {
		n, err := eng.rec.store.CountEventsSince(ctx, eng.now().Add(-recentEventWindow))
		if err != nil {
			eng.log.Warn("security event count failed", logx.Err(err))
		} else {
			s.RecentSecurityEventCount = n
		}
	}
	return s
}

// Cleanup evicts expired rate-limit entries and stale suspicion
// buckets. Idempotent: a second run with no intervening calls removes
// nothing. The scheduler invokes it every five minutes.
func (eng *Engine) Cleanup() (rateEntries, buckets int) {
	rateEntries = eng.limiter.sweep()
	buckets = eng.detector.sweep()
	if rateEntries > 0 || buckets > 0 {
		eng.log.Debug("security state swept",
			logx.Int("rate_entries", rateEntries),
			logx.Int("suspicion_buckets", buckets),
		)
	}
	return rateEntries, buckets
}

// RecentEvents reads back stored events for operator commands.
func (eng *Engine) RecentEvents(ctx context.Context, f storage.EventFilter) ([]storage.SecurityEvent, error) {
	if eng.rec.store == nil {
		return nil, storage.ErrDisabled
	}
	return eng.rec.store.RecentEvents(ctx, f)
}

// PurgeEventsOlderThan deletes events older than age. Operator-invoked
// only; nothing in the engine deletes events on its own. age <= 0 uses
// the configured default retention.
func (eng *Engine) PurgeEventsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if eng.rec.store == nil {
		return 0, storage.ErrDisabled
	}
	if age <= 0 {
		age = eng.DefaultRetention()
	}
	n, err := eng.rec.store.DeleteEventsBefore(ctx, eng.now().Add(-age))
	if err != nil {
		return 0, err
	}
	eng.log.Info("security events purged",
		logx.Int64("deleted", n),
		logx.Duration("older_than", age),
	)
	return n, nil
}

// RateRules returns a copy of the effective rate-limit table.
func (eng *Engine) RateRules() RateConfig { return eng.limiter.snapshotRules() }

// DefaultRetention reports the configured retention default.
func (eng *Engine) DefaultRetention() time.Duration {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	return eng.retention
}

// Apply hot-swaps policy, rate rules and retention from a validated
// config. Live window counters keep their windows.
func (eng *Engine) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("security config: %w", err)
	}
	eng.limiter.setRules(cfg.Rates)
	eng.mu.Lock()
	eng.eval = NewEvaluator(cfg.Policy)
	if cfg.EventRetention > 0 {
		eng.retention = cfg.EventRetention
	}
	eng.mu.Unlock()
	return nil
}

// Publish lets operator tooling push a hand-raised event through the
// same record path (used for critical notices).
func (eng *Engine) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = eng.now()
	}
	eng.rec.record(ctx, ev)
}
