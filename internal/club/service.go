package club

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"clubbot/internal/storage"
	kit "clubbot/internal/transport"
	logx "clubbot/pkg/logx"
)

var (
	ErrNoStorage     = errors.New("club features need storage")
	ErrFeeDisabled   = errors.New("fee tracking disabled")
	ErrMemberUnknown = errors.New("member not on the roster")
	ErrPollNotFound  = errors.New("poll not found")
	ErrPollClosed    = errors.New("poll already closed")
)

const (
	minPollOptions  = 2
	maxPollOptions  = 10
	maxPollDuration = 30 * 24 * time.Hour
	maxFeeMonths    = 24
)

// Config is the club slice of the app configuration.
type Config struct {
	GuildID         string
	AnnounceChannel string
	FeeEnabled      bool
	FeeAmount       string
	FeeDueDay       int
}

// Store is the slice of storage the service needs. *storage.DB satisfies it.
type Store interface {
	Member(ctx context.Context, userID string) (storage.MemberRecord, bool, error)
	ListMembers(ctx context.Context) ([]storage.MemberRecord, error)
	SetFeePaidThrough(ctx context.Context, userID, month string) error
	CreatePoll(ctx context.Context, p storage.Poll) (int64, error)
	GetPoll(ctx context.Context, id int64) (storage.Poll, bool, error)
	DuePolls(ctx context.Context, now time.Time) ([]storage.Poll, error)
	CastVote(ctx context.Context, pollID int64, userID string, option int) error
	VoteCounts(ctx context.Context, pollID int64) (map[int]int, error)
	ClosePoll(ctx context.Context, id int64) error
}

// Notifier posts a single notification (announce channel summaries,
// poll results).
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Broadcaster fans one text out to many members as DMs (dues reminders).
type Broadcaster interface {
	NewJob(name string, userIDs []string, text string) string
}

type Service struct {
	store  Store
	notify Notifier
	bcast  Broadcaster
	log    logx.Logger

	mu  sync.RWMutex
	cfg Config

	now func() time.Time
}

func New(cfg Config, store Store, notify Notifier, bcast Broadcaster, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:  store,
		notify: notify,
		bcast:  bcast,
		log:    log,
		now:    time.Now,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the config. Called on config reload.
func (s *Service) Apply(cfg Config) {
	if cfg.FeeDueDay <= 0 || cfg.FeeDueDay > 28 {
		cfg.FeeDueDay = 5
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// --- dues ---

// FeeStatus is one member's dues position for the current month.
type FeeStatus struct {
	Member      storage.MemberRecord
	Month       string
	PaidThrough string
	Paid        bool
	Amount      string
}

func (s *Service) FeeStatus(ctx context.Context, userID string) (FeeStatus, error) {
	if s.store == nil {
		return FeeStatus{}, ErrNoStorage
	}
	cfg := s.config()
	if !cfg.FeeEnabled {
		return FeeStatus{}, ErrFeeDisabled
	}
	m, ok, err := s.store.Member(ctx, userID)
	if err != nil {
		return FeeStatus{}, err
	}
	if !ok {
		return FeeStatus{}, ErrMemberUnknown
	}
	month := monthOf(s.now())
	return FeeStatus{
		Member:      m,
		Month:       month,
		PaidThrough: m.FeePaidThrough,
		Paid:        !monthBefore(m.FeePaidThrough, month),
		Amount:      cfg.FeeAmount,
	}, nil
}

// MarkFeePaid records a payment of the given number of months and
// returns the new paid-through month. Payment extends from the later of
// the covered month and the month before the current one.
func (s *Service) MarkFeePaid(ctx context.Context, userID string, months int) (string, error) {
	if s.store == nil {
		return "", ErrNoStorage
	}
	if !s.config().FeeEnabled {
		return "", ErrFeeDisabled
	}
	if months < 1 || months > maxFeeMonths {
		return "", fmt.Errorf("months must be between 1 and %d", maxFeeMonths)
	}
	m, ok, err := s.store.Member(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrMemberUnknown
	}

	base := m.FeePaidThrough
	floor := prevMonth(monthOf(s.now()))
	if _, valid := parseMonth(base); !valid || monthBefore(base, floor) {
		base = floor
	}
	through := addMonths(base, months)
	if err := s.store.SetFeePaidThrough(ctx, userID, through); err != nil {
		return "", err
	}
	s.log.Info("fee payment recorded",
		logx.String("user_id", userID),
		logx.Int("months", months),
		logx.String("paid_through", through))
	return through, nil
}

// UnpaidMembers lists roster members whose dues do not cover the
// current month.
func (s *Service) UnpaidMembers(ctx context.Context) ([]storage.MemberRecord, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	month := monthOf(s.now())
	var out []storage.MemberRecord
	for _, m := range members {
		if monthBefore(m.FeePaidThrough, month) {
			out = append(out, m)
		}
	}
	return out, nil
}

// RemindUnpaid DMs every unpaid member and returns the broadcast job id
// and recipient count. A summary goes to the announce channel when one
// is configured.
func (s *Service) RemindUnpaid(ctx context.Context) (string, int, error) {
	cfg := s.config()
	if !cfg.FeeEnabled {
		return "", 0, ErrFeeDisabled
	}
	if s.bcast == nil {
		return "", 0, errors.New("no broadcaster configured")
	}
	unpaid, err := s.UnpaidMembers(ctx)
	if err != nil {
		return "", 0, err
	}
	if len(unpaid) == 0 {
		return "", 0, nil
	}

	ids := make([]string, 0, len(unpaid))
	for _, m := range unpaid {
		ids = append(ids, m.UserID)
	}
	text := reminderText(cfg, monthOf(s.now()))
	jobID := s.bcast.NewJob("fee.remind", ids, text)
	s.log.Info("dues reminders queued", logx.String("job", jobID), logx.Int("recipients", len(ids)))

	if s.notify != nil && cfg.AnnounceChannel != "" {
		summary := fmt.Sprintf("dues reminders sent to %d member(s) for %s", len(ids), monthOf(s.now()))
		_ = s.notify.Notify(ctx, kit.Notification{
			Channel:  "discord",
			Priority: 5,
			Target:   kit.ChatTarget{ChannelID: cfg.AnnounceChannel},
			Text:     summary,
		})
	}
	return jobID, len(ids), nil
}

// RemindIfDue is the scheduled entry point: it only sends during the
// first FeeDueDay days of the month so members get nagged up to the due
// day and then left alone.
func (s *Service) RemindIfDue(ctx context.Context) error {
	cfg := s.config()
	if !cfg.FeeEnabled {
		return nil
	}
	if day := s.now().Day(); day > cfg.FeeDueDay {
		return nil
	}
	_, _, err := s.RemindUnpaid(ctx)
	return err
}

func reminderText(cfg Config, month string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📢 club dues reminder: the %s membership fee", month)
	if cfg.FeeAmount != "" {
		fmt.Fprintf(&b, " (%s)", cfg.FeeAmount)
	}
	fmt.Fprintf(&b, " is due by day %d.", cfg.FeeDueDay)
	b.WriteString(" Already paid? Ask an admin to record it.")
	return b.String()
}

// --- polls ---

// PollResult is a poll with its tally, Counts aligned with Options.
type PollResult struct {
	Poll   storage.Poll
	Counts []int
	Total  int
}

func (s *Service) CreatePoll(ctx context.Context, guildID, channelID, creatorID, question string, options []string, closesIn time.Duration) (storage.Poll, error) {
	if s.store == nil {
		return storage.Poll{}, ErrNoStorage
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return storage.Poll{}, errors.New("poll needs a question")
	}
	clean := make([]string, 0, len(options))
	for _, o := range options {
		if o = strings.TrimSpace(o); o != "" {
			clean = append(clean, o)
		}
	}
	if len(clean) < minPollOptions || len(clean) > maxPollOptions {
		return storage.Poll{}, fmt.Errorf("polls take %d to %d options", minPollOptions, maxPollOptions)
	}
	if closesIn < 0 || closesIn > maxPollDuration {
		return storage.Poll{}, fmt.Errorf("poll duration must be within %s", maxPollDuration)
	}

	p := storage.Poll{
		GuildID:   guildID,
		ChannelID: channelID,
		CreatorID: creatorID,
		Question:  question,
		Options:   clean,
		CreatedAt: s.now(),
	}
	if closesIn > 0 {
		p.ClosesAt = s.now().Add(closesIn)
	}
	id, err := s.store.CreatePoll(ctx, p)
	if err != nil {
		return storage.Poll{}, err
	}
	p.ID = id
	s.log.Info("poll created", logx.Int64("poll", id), logx.String("creator", creatorID), logx.Int("options", len(clean)))
	return p, nil
}

// Vote records the caller's choice. choice is 1-based, as displayed by
// poll show; voting again replaces the earlier vote.
func (s *Service) Vote(ctx context.Context, pollID int64, userID string, choice int) error {
	if s.store == nil {
		return ErrNoStorage
	}
	p, ok, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPollNotFound
	}
	if p.Closed {
		return ErrPollClosed
	}
	if choice < 1 || choice > len(p.Options) {
		return fmt.Errorf("choice must be between 1 and %d", len(p.Options))
	}
	return s.store.CastVote(ctx, pollID, userID, choice-1)
}

func (s *Service) ShowPoll(ctx context.Context, pollID int64) (PollResult, error) {
	if s.store == nil {
		return PollResult{}, ErrNoStorage
	}
	p, ok, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return PollResult{}, err
	}
	if !ok {
		return PollResult{}, ErrPollNotFound
	}
	return s.tally(ctx, p)
}

// ClosePoll closes a poll and returns the final tally.
func (s *Service) ClosePoll(ctx context.Context, pollID int64) (PollResult, error) {
	if s.store == nil {
		return PollResult{}, ErrNoStorage
	}
	p, ok, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return PollResult{}, err
	}
	if !ok {
		return PollResult{}, ErrPollNotFound
	}
	if p.Closed {
		return PollResult{}, ErrPollClosed
	}
	if err := s.store.ClosePoll(ctx, pollID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return PollResult{}, ErrPollNotFound
		}
		return PollResult{}, err
	}
	p.Closed = true
	s.log.Info("poll closed", logx.Int64("poll", pollID))
	return s.tally(ctx, p)
}

// CloseDuePolls closes every open poll past its deadline and announces
// the result in the poll's channel. Returns how many closed.
func (s *Service) CloseDuePolls(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, ErrNoStorage
	}
	due, err := s.store.DuePolls(ctx, s.now())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, p := range due {
		res, err := s.ClosePoll(ctx, p.ID)
		if err != nil {
			if errors.Is(err, ErrPollClosed) {
				continue
			}
			s.log.Warn("auto-close failed", logx.Err(err), logx.Int64("poll", p.ID))
			continue
		}
		closed++
		if s.notify != nil && p.ChannelID != "" {
			_ = s.notify.Notify(ctx, kit.Notification{
				Channel: "discord",
				Target:  kit.ChatTarget{ChannelID: p.ChannelID},
				Text:    FormatPollResult(res),
			})
		}
	}
	if closed > 0 {
		s.log.Info("due polls closed", logx.Int("count", closed))
	}
	return closed, nil
}

func (s *Service) tally(ctx context.Context, p storage.Poll) (PollResult, error) {
	counts, err := s.store.VoteCounts(ctx, p.ID)
	if err != nil {
		return PollResult{}, err
	}
	res := PollResult{Poll: p, Counts: make([]int, len(p.Options))}
	for idx, n := range counts {
		if idx >= 0 && idx < len(res.Counts) {
			res.Counts[idx] = n
			res.Total += n
		}
	}
	return res, nil
}

// FormatPollResult renders a tally for chat.
func FormatPollResult(r PollResult) string {
	var b strings.Builder
	state := "open"
	if r.Poll.Closed {
		state = "closed"
	}
	fmt.Fprintf(&b, "📊 poll #%d (%s): %s", r.Poll.ID, state, r.Poll.Question)
	for i, opt := range r.Poll.Options {
		fmt.Fprintf(&b, "\n%d) %s: %d", i+1, opt, r.Counts[i])
	}
	fmt.Fprintf(&b, "\ntotal votes: %d", r.Total)
	return b.String()
}
