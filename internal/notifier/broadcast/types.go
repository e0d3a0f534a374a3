// Package broadcast fans one message out to many members as direct
// messages. It backs the dues reminder blast: one job per invocation,
// with per-job progress the operator can query afterwards.
//
// Fan-outs are operator- or schedule-driven and deliberately skip the
// notifier's dedup; invoking a blast twice sends twice.
package broadcast

import (
	"context"
	"sync"
	"time"

	logx "clubbot/pkg/logx"

	"golang.org/x/time/rate"

	kit "clubbot/internal/transport"
)

type Config struct {
	Enabled    bool
	Workers    int
	RatePerSec int
	RetryMax   int
}

type job struct {
	id      string
	name    string
	userIDs []string
	text    string
}

type JobStatus struct {
	ID       string
	Name     string
	Total    int
	Done     int
	Failed   int
	Failures []string // user ids that could not be reached
	// CreatedAt is when the status entry was created (i.e., when NewJob() was called).
	// Useful for pruning old entries even when a job never starts.
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	adapter kit.Adapter
	log     logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when workers fully exit.
	stopDone chan struct{}

	statusMu sync.RWMutex
	status   map[string]*JobStatus
	// statusMax/statusTTL bound in-memory status retention to prevent map growth.
	statusMax int
	statusTTL time.Duration
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
