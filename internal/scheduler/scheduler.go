// Package scheduler runs the bot's background jobs (cleanup sweeps,
// roster sync, dues reminders, poll auto-close) on a small worker pool.
//
// Jobs are registered under stable human-readable names ("security:cleanup",
// "club:roster-sync") and fire from cron entries into a bounded queue; a
// full queue drops the tick instead of blocking the cron goroutine, and
// a job still running when its next tick fires skips that tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "clubbot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	Workers        int
	QueueSize      int
	HistorySize    int
	DefaultTimeout time.Duration
	Timezone       string // IANA TZ, e.g. "Asia/Jakarta"
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 2 * time.Minute
	}
	return c
}

// HistoryItem is one finished run.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// JobInfo describes one registered schedule.
type JobInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Snapshot is the operator view of the service.
type Snapshot struct {
	Enabled  bool
	Timezone string
	Workers  int
	QueueLen int
	Jobs     []JobInfo
	History  []HistoryItem
}

type job struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
	state   *runState
}

type runState struct {
	mu      sync.Mutex
	running bool
}

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error
	entryID cron.EntryID
	state   *runState
}

// Service owns the cron entries and the worker pool. Registering jobs
// while stopped is supported; definitions apply on the next Start.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*jobDef

	queue  chan job
	stopCh chan struct{}
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// SetEnabled flips the enabled flag without touching the job table.
// The caller starts or stops the loop around this on config reload.
func (s *Service) SetEnabled(v bool) {
	s.mu.Lock()
	s.cfg.Enabled = v
	s.mu.Unlock()
}

// Add registers a job under a cron spec ("*/5 * * * *", "@every 1m",
// "@daily"). Zero timeout uses the configured default.
func (s *Service) Add(name, spec string, timeout time.Duration, run func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: bad spec %q: %w", name, spec, err)
	}
	for _, d := range s.defs {
		if d.name == name {
			return fmt.Errorf("job %s: already registered", name)
		}
	}

	d := &jobDef{
		name:    name,
		spec:    spec,
		timeout: s.resolveTimeoutLocked(timeout),
		run:     run,
		state:   &runState{},
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		return s.scheduleLocked(d)
	}
	return nil
}

// AddInterval registers a job firing every d.
func (s *Service) AddInterval(name string, every, timeout time.Duration, run func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("job %s: interval must be > 0", name)
	}
	return s.Add(name, "@every "+every.String(), timeout, run)
}

// AddDaily registers a job firing daily at HH:MM in the scheduler's
// timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, run func(ctx context.Context) error) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return s.Add(name, fmt.Sprintf("%d %d * * *", m, h), timeout, run)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan job, s.cfg.QueueSize)

	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.scheduleLocked(d); err != nil {
			s.log.Warn("job schedule failed", logx.String("job", d.name), logx.Err(err))
		}
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("jobs", len(s.defs)),
		logx.String("tz", s.loc.String()),
	)
}

// Stop halts the cron loop and waits for in-flight runs to finish or
// ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; runs still in flight")
	}
}

func (s *Service) scheduleLocked(d *jobDef) error {
	id, err := s.c.AddFunc(d.spec, func() {
		s.enqueue(job{name: d.name, timeout: d.timeout, run: d.run, state: d.state})
	})
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) enqueue(j job) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- j:
	default:
		s.log.Warn("scheduler queue full, dropping tick", logx.String("job", j.name))
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		stopCh := s.stopCh
		q := s.queue
		s.mu.Unlock()
		if stopCh == nil || q == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-q:
			s.execOne(ctx, j)
		}
	}
}

func (s *Service) execOne(ctx context.Context, j job) {
	j.state.mu.Lock()
	if j.state.running {
		j.state.mu.Unlock()
		s.log.Debug("job still running, skipping tick", logx.String("job", j.name))
		return
	}
	j.state.running = true
	j.state.mu.Unlock()
	defer func() {
		j.state.mu.Lock()
		j.state.running = false
		j.state.mu.Unlock()
	}()

	start := time.Now()
	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		err = j.run(runCtx)
	}()

	item := HistoryItem{Name: j.name, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed",
			logx.String("job", j.name),
			logx.Duration("took", item.Duration),
			logx.Err(err),
		)
	} else {
		s.log.Debug("job ok",
			logx.String("job", j.name),
			logx.Duration("took", item.Duration),
		)
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

// RunNow enqueues one immediate run of a registered job, bypassing its
// schedule. Used by operator commands.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return errors.New("scheduler not started")
	}
	for _, d := range s.defs {
		if d.name == name {
			select {
			case s.queue <- job{name: d.name, timeout: d.timeout, run: d.run, state: d.state}:
				return nil
			default:
				return errors.New("scheduler queue full")
			}
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Workers:  s.cfg.Workers,
		Timezone: s.cfg.Timezone,
	}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	for _, d := range s.defs {
		info := JobInfo{Name: d.name, Spec: d.spec}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) resolveTimeoutLocked(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return s.cfg.DefaultTimeout
}

func parseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
