package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "clubbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrNotFound is returned by updates that target a missing row.
var ErrNotFound = errors.New("storage: not found")

type DB struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &DB{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- security events ---

func (s *DB) AppendEvent(ctx context.Context, e SecurityEvent) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_events(type, user_id, username, guild_id, channel_id, command, details, severity, at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.Type, e.UserID, e.Username, nullStr(e.GuildID), nullStr(e.ChannelID),
		nullStr(e.Command), nullStr(e.Details), e.Severity, e.At.UnixMilli(),
	)
	return err
}

// RecentEvents returns the newest events first, narrowed by the filter.
func (s *DB) RecentEvents(ctx context.Context, f EventFilter) ([]SecurityEvent, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT id, type, user_id, username, guild_id, channel_id, command, details, severity, at
	      FROM security_events`
	var (
		conds []string
		args  []any
	)
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, f.Severity)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SecurityEvent
	for rows.Next() {
		var (
			e       SecurityEvent
			guild   sql.NullString
			channel sql.NullString
			command sql.NullString
			details sql.NullString
			at      int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.UserID, &e.Username, &guild, &channel, &command, &details, &e.Severity, &at); err != nil {
			return nil, err
		}
		e.GuildID = guild.String
		e.ChannelID = channel.String
		e.Command = command.String
		e.Details = details.String
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) CountEventsSince(ctx context.Context, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE at >= ?`, since.UnixMilli(),
	).Scan(&n)
	return n, err
}

// DeleteEventsBefore removes events older than cutoff and reports how
// many rows went away.
func (s *DB) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM security_events WHERE at < ?`, cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- roster ---

// UpsertMember inserts or refreshes a roster row. FeePaidThrough is
// owned by SetFeePaidThrough and survives roster refreshes.
func (s *DB) UpsertMember(ctx context.Context, m MemberRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(m.UserID) == "" {
		return errors.New("member user id is required")
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	roles, err := json.Marshal(m.Roles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO members(user_id, username, display_name, roles, joined_at, fee_paid_through, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username   = excluded.username,
		   display_name = excluded.display_name,
		   roles      = excluded.roles,
		   joined_at  = excluded.joined_at,
		   updated_at = excluded.updated_at`,
		m.UserID, m.Username, nullStr(m.DisplayName), string(roles),
		nullMilli(m.JoinedAt), nullStr(m.FeePaidThrough), m.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *DB) Member(ctx context.Context, userID string) (MemberRecord, bool, error) {
	if s == nil || s.db == nil {
		return MemberRecord{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, display_name, roles, joined_at, fee_paid_through, updated_at
		 FROM members WHERE user_id = ?`, userID)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MemberRecord{}, false, nil
	}
	if err != nil {
		return MemberRecord{}, false, err
	}
	return m, true, nil
}

func (s *DB) ListMembers(ctx context.Context) ([]MemberRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username, display_name, roles, joined_at, fee_paid_through, updated_at
		 FROM members ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MemberRecord
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *DB) SetFeePaidThrough(ctx context.Context, userID, month string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET fee_paid_through = ?, updated_at = ? WHERE user_id = ?`,
		nullStr(month), time.Now().UnixMilli(), userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(r rowScanner) (MemberRecord, error) {
	var (
		m       MemberRecord
		display sql.NullString
		roles   sql.NullString
		joined  sql.NullInt64
		fee     sql.NullString
		updated int64
	)
	if err := r.Scan(&m.UserID, &m.Username, &display, &roles, &joined, &fee, &updated); err != nil {
		return MemberRecord{}, err
	}
	m.DisplayName = display.String
	if roles.Valid && roles.String != "" {
		if err := json.Unmarshal([]byte(roles.String), &m.Roles); err != nil {
			return MemberRecord{}, fmt.Errorf("member %s roles: %w", m.UserID, err)
		}
	}
	if joined.Valid && joined.Int64 > 0 {
		m.JoinedAt = time.UnixMilli(joined.Int64)
	}
	m.FeePaidThrough = fee.String
	m.UpdatedAt = time.UnixMilli(updated)
	return m, nil
}

// --- polls ---

func (s *DB) CreatePoll(ctx context.Context, p Poll) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	opts, err := json.Marshal(p.Options)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO polls(guild_id, channel_id, creator_id, question, options, closes_at, closed, created_at)
		 VALUES(?,?,?,?,?,?,0,?)`,
		p.GuildID, p.ChannelID, p.CreatorID, p.Question, string(opts),
		nullMilli(p.ClosesAt), p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) GetPoll(ctx context.Context, id int64) (Poll, bool, error) {
	if s == nil || s.db == nil {
		return Poll{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, channel_id, creator_id, question, options, closes_at, closed, created_at
		 FROM polls WHERE id = ?`, id)
	p, err := scanPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Poll{}, false, nil
	}
	if err != nil {
		return Poll{}, false, err
	}
	return p, true, nil
}

// DuePolls returns open polls whose deadline has passed.
func (s *DB) DuePolls(ctx context.Context, now time.Time) ([]Poll, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, channel_id, creator_id, question, options, closes_at, closed, created_at
		 FROM polls WHERE closed = 0 AND closes_at IS NOT NULL AND closes_at <= ?
		 ORDER BY closes_at`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPoll(r rowScanner) (Poll, error) {
	var (
		p       Poll
		opts    string
		closes  sql.NullInt64
		closed  int
		created int64
	)
	if err := r.Scan(&p.ID, &p.GuildID, &p.ChannelID, &p.CreatorID, &p.Question, &opts, &closes, &closed, &created); err != nil {
		return Poll{}, err
	}
	if err := json.Unmarshal([]byte(opts), &p.Options); err != nil {
		return Poll{}, fmt.Errorf("poll %d options: %w", p.ID, err)
	}
	if closes.Valid && closes.Int64 > 0 {
		p.ClosesAt = time.UnixMilli(closes.Int64)
	}
	p.Closed = closed != 0
	p.CreatedAt = time.UnixMilli(created)
	return p, nil
}

// CastVote records or replaces the caller's vote.
func (s *DB) CastVote(ctx context.Context, pollID int64, userID string, option int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_votes(poll_id, user_id, option_idx, at) VALUES(?,?,?,?)
		 ON CONFLICT(poll_id, user_id) DO UPDATE SET option_idx=excluded.option_idx, at=excluded.at`,
		pollID, userID, option, time.Now().UnixMilli(),
	)
	return err
}

// VoteCounts returns votes per option index. Options without votes are
// absent from the map.
func (s *DB) VoteCounts(ctx context.Context, pollID int64) (map[int]int, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT option_idx, COUNT(*) FROM poll_votes WHERE poll_id = ? GROUP BY option_idx`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, err
		}
		out[idx] = n
	}
	return out, rows.Err()
}

func (s *DB) ClosePoll(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `UPDATE polls SET closed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- notifier dedup ---

func (s *DB) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *DB) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *DB) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMilli(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
