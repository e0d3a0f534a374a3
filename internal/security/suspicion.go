package security

import (
	"sync"
	"time"
)

const (
	// suspicionBucket is the attribution window: every invocation lands
	// in exactly one 10-second bucket per user.
	suspicionBucket = 10 * time.Second
	// suspicionThreshold flags a user once a bucket reaches this count.
	suspicionThreshold = 20
	// suspicionKeepBuckets is how many buckets back state is retained
	// before the sweep drops it (60s).
	suspicionKeepBuckets = 6
)

type bucketKey struct {
	userID string
	// index is floor(unix millis / 10000).
	index int64
}

// detector counts per-user invocations in rolling 10-second buckets,
// independent of rate limiting: a caller can stay under every
// per-command limit and still trip this by mixing many commands fast.
type detector struct {
	mu      sync.Mutex
	buckets map[bucketKey]int
	now     func() time.Time
}

func newDetector(now func() time.Time) *detector {
	return &detector{
		buckets: make(map[bucketKey]int),
		now:     now,
	}
}

func bucketIndex(t time.Time) int64 {
	return t.UnixMilli() / suspicionBucket.Milliseconds()
}

// recordAndCheck attributes one invocation to the caller's current
// bucket and reports whether this call tripped the threshold, along
// with the bucket's new count. The 20th call in a bucket flags; the
// 19th never does.
func (d *detector) recordAndCheck(userID string) (flagged bool, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := bucketKey{userID: userID, index: bucketIndex(d.now())}
	count = d.buckets[key] + 1
	d.buckets[key] = count
	return count >= suspicionThreshold, count
}

// sweep drops buckets older than suspicionKeepBuckets behind the
// current one and reports how many went away.
func (d *detector) sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := bucketIndex(d.now()) - suspicionKeepBuckets
	removed := 0
	for k := range d.buckets {
		if k.index < cutoff {
			delete(d.buckets, k)
			removed++
		}
	}
	return removed
}

// size returns the number of tracked buckets.
func (d *detector) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buckets)
}
