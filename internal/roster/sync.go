package roster

import (
	"context"
	"time"

	"clubbot/internal/storage"
	logx "clubbot/pkg/logx"
)

// Store is the slice of storage the syncer needs. *storage.DB satisfies it.
type Store interface {
	UpsertMember(ctx context.Context, m storage.MemberRecord) error
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Total    int
	Upserted int
	Failed   int
}

// Syncer mirrors a Source into storage.
type Syncer struct {
	store Store
	src   Source
	log   logx.Logger
}

func NewSyncer(store Store, src Source, log logx.Logger) *Syncer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Syncer{store: store, src: src, log: log}
}

// Sync fetches the member list and upserts every row. A row that fails
// to write is counted and logged but does not abort the pass; fee data
// for existing rows is preserved by the storage layer.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	start := time.Now()
	entries, err := s.src.Fetch(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{Total: len(entries)}
	for _, e := range entries {
		rec := storage.MemberRecord{
			UserID:      e.UserID,
			Username:    e.Username,
			DisplayName: e.DisplayName,
			JoinedAt:    e.JoinedAt,
		}
		if err := s.store.UpsertMember(ctx, rec); err != nil {
			res.Failed++
			s.log.Warn("roster upsert failed", logx.Err(err), logx.String("user_id", e.UserID))
			continue
		}
		res.Upserted++
	}

	s.log.Info("roster sync finished",
		logx.Int("total", res.Total),
		logx.Int("upserted", res.Upserted),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", time.Since(start)))
	return res, nil
}
