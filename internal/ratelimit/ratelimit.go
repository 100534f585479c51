// Package ratelimit implements the fixed-window request limiter guarding the
// ask and voice endpoints. Windows are aligned to the epoch, so a window of
// length w always covers [k*w, (k+1)*w) seconds.
package ratelimit

import (
	"sync"
	"time"

	"dataghost/internal/logging"
	"dataghost/internal/metrics"
	"dataghost/internal/types"
)

// Gate admits or rejects one request for a client key inside a named bucket.
// The server composes per-minute and per-hour buckets for each route.
type Gate interface {
	Allow(bucket, key string, limit, windowSeconds int) error
}

type windowKey struct {
	bucket string
	key    string
	start  int64
}

type windowEntry struct {
	count int
	end   int64
}

// pruneAbove bounds the window map: once it holds more entries than this,
// the next admit drops every expired window.
const pruneAbove = 1024

// Limiter counts requests per (bucket, client key) in fixed epoch-aligned
// windows. All state is in-process; a restart clears it.
type Limiter struct {
	mu     sync.Mutex
	counts map[windowKey]windowEntry
	now    func() time.Time
}

// New returns an empty limiter using the wall clock.
func New() *Limiter {
	return &Limiter{
		counts: make(map[windowKey]windowEntry),
		now:    time.Now,
	}
}

// Allow admits one request in the bucket's current window, or returns a
// RateLimitError carrying the whole seconds until the window rolls over.
// A limit of zero or less disables the bucket.
func (l *Limiter) Allow(bucket, key string, limit, windowSeconds int) error {
	if limit <= 0 {
		return nil
	}
	now := l.now().Unix()
	window := int64(windowSeconds)
	start := now - now%window
	wk := windowKey{bucket: bucket, key: key, start: start}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.counts[wk]
	if entry.count >= limit {
		retry := int(window - (now - start))
		if retry < 1 {
			retry = 1
		}
		metrics.RateLimited(bucket)
		logging.Get(logging.CategoryRateLimit).Info("Rejected %s in bucket %s (%d/%d this window, retry after %ds)",
			key, bucket, entry.count, limit, retry)
		return &types.RateLimitError{Bucket: bucket, RetryAfter: retry}
	}
	if len(l.counts) > pruneAbove {
		l.pruneLocked(now)
	}
	l.counts[wk] = windowEntry{count: entry.count + 1, end: start + window}
	return nil
}

// Reset drops every counter. Tests call it between cases.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = make(map[windowKey]windowEntry)
}

func (l *Limiter) pruneLocked(now int64) {
	for wk, entry := range l.counts {
		if entry.end <= now {
			delete(l.counts, wk)
		}
	}
}
