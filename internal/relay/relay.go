// Package relay implements the in-memory cross-browser sync event log the
// file-store service exposes through /broadcast-sync and /sync-events. It
// is deliberately non-persistent: events expire after a fixed TTL, and the
// retained count is bounded so a chatty client cannot grow it forever.
package relay

import (
	"sync"
	"time"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

const (
	// DefaultTTL is how long an event stays deliverable.
	DefaultTTL = 5 * time.Minute
	// trimAt and keepAfterTrim bound the log: when it exceeds trimAt the
	// oldest entries are discarded down to the keepAfterTrim newest.
	trimAt        = 100
	keepAfterTrim = 50
)

// Log is the bounded, TTL'd event log. Safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	events []domain.SyncEvent
	ttl    time.Duration
	nowFn  func() time.Time
}

// New returns a Log with the given TTL (DefaultTTL when zero).
func New(ttl time.Duration) *Log {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Log{ttl: ttl, nowFn: time.Now}
}

// Add appends an event, pruning expired entries and trimming overflow.
func (l *Log) Add(e domain.SyncEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	l.events = append(l.events, e)
	if len(l.events) > trimAt {
		l.events = append([]domain.SyncEvent(nil), l.events[len(l.events)-keepAfterTrim:]...)
	}
}

// Since returns live events newer than since that did not originate from
// origin, oldest first.
func (l *Log) Since(origin string, since time.Time) []domain.SyncEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	var out []domain.SyncEvent
	for _, e := range l.events {
		if e.OriginID == origin || !e.Timestamp.After(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len reports the current retained event count.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return len(l.events)
}

func (l *Log) pruneLocked() {
	now := l.nowFn()
	kept := l.events[:0]
	for _, e := range l.events {
		if !e.Stale(now, l.ttl) {
			kept = append(kept, e)
		}
	}
	l.events = kept
}
