package roster

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Entry is one member row from the sheet export.
type Entry struct {
	UserID      string
	Username    string
	DisplayName string
	// JoinedAt is zero when the sheet has no join date.
	JoinedAt time.Time
}

// Source yields the current member list. Implementations should return
// the full list on every call; Sync diffs against storage itself.
type Source interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// MultiSource concatenates several sources in order. Later entries for
// the same user win the upsert, so list the authoritative source last.
type MultiSource []Source

func (m MultiSource) Fetch(ctx context.Context) ([]Entry, error) {
	var out []Entry
	for _, src := range m {
		entries, err := src.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// FileSource reads a CSV export from disk. The first row is a header;
// column order does not matter. Recognized columns: user_id, username,
// display_name, joined (YYYY-MM-DD). Rows without a user_id are skipped.
type FileSource struct {
	Path string
}

func (f FileSource) Fetch(ctx context.Context) ([]Entry, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open roster csv: %w", err)
	}
	defer fh.Close()
	return parseCSV(fh)
}

func parseCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idIdx, ok := cols["user_id"]
	if !ok {
		return nil, fmt.Errorf("roster csv missing user_id column (header: %s)", strings.Join(header, ","))
	}
	nameIdx, hasName := cols["username"]
	displayIdx, hasDisplay := cols["display_name"]
	joinedIdx, hasJoined := cols["joined"]

	field := func(rec []string, idx int) string {
		if idx < 0 || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}

	var out []Entry
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster row: %w", err)
		}
		e := Entry{UserID: field(rec, idIdx)}
		if e.UserID == "" {
			continue
		}
		if hasName {
			e.Username = field(rec, nameIdx)
		}
		if hasDisplay {
			e.DisplayName = field(rec, displayIdx)
		}
		if hasJoined {
			if raw := field(rec, joinedIdx); raw != "" {
				if t, err := time.Parse("2006-01-02", raw); err == nil {
					e.JoinedAt = t
				}
			}
		}
		out = append(out, e)
	}
	return out, nil
}
