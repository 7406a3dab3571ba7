// Package bus propagates "a product changed" notifications across execution
// contexts. One parametrized bus composes up to three transport tiers:
// in-process listener fan-out, a shared spool directory other local
// processes poll (the write-then-remove analog of a storage event), and a
// remote relay polled for events from other devices.
//
// The whole bus is advisory. Every tier fires best-effort, receivers drop
// their own echoes and anything older than the TTL, and total failure of
// all tiers only delays convergence until the next reconciliation pass.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
	"github.com/storefront-labs/go-catalog-sync/internal/metrics"
)

// DefaultTTL is the receiver-side staleness cutoff. By the time an older
// event would be observed, periodic reconciliation has likely already
// converged state through other means.
const DefaultTTL = time.Minute

// Listener receives delivered events.
type Listener func(domain.SyncEvent)

// Transport is one propagation tier beyond the in-process one. Publish
// fires an event outward; Poll gathers foreign events since the given time.
type Transport interface {
	Name() string
	Publish(ctx context.Context, e domain.SyncEvent) error
	Poll(ctx context.Context, origin string, since time.Time) ([]domain.SyncEvent, error)
}

// Options configures a Bus.
type Options struct {
	// Identity is this context's stable origin id (see LoadIdentity).
	Identity string
	// TTL is the staleness cutoff (DefaultTTL when zero).
	TTL time.Duration
	// PollInterval drives the transport pollers (default 10s).
	PollInterval time.Duration
	// Transports are the outward tiers, polled and published in order.
	Transports []Transport
}

// Bus is the change broadcast bus. Safe for concurrent use.
type Bus struct {
	identity   string
	ttl        time.Duration
	transports []Transport

	mu        sync.RWMutex
	listeners map[string]map[int]Listener
	nextID    int
	lastPoll  time.Time

	lg     zerolog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Bus and starts its transport pollers.
func New(opts Options) *Bus {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	b := &Bus{
		identity:   opts.Identity,
		ttl:        opts.TTL,
		transports: opts.Transports,
		listeners:  make(map[string]map[int]Listener),
		lastPoll:   time.Now(),
		lg:         log.With().Str("component", "bus").Str("origin", opts.Identity).Logger(),
	}
	if len(b.transports) > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.wg.Add(1)
		go b.pollLoop(ctx, opts.PollInterval)
	}
	return b
}

// Identity returns this context's origin id.
func (b *Bus) Identity() string { return b.identity }

// Close stops the pollers. Listeners registered at close time are dropped.
func (b *Bus) Close() {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
}

// AddListener registers a same-process callback for an event type and
// returns its unsubscribe function. Invocation order across listeners is
// not guaranteed.
func (b *Bus) AddListener(eventType string, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners[eventType] == nil {
		b.listeners[eventType] = make(map[int]Listener)
	}
	id := b.nextID
	b.nextID++
	b.listeners[eventType][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[eventType], id)
	}
}

// Broadcast fires an event through every tier best-effort: same-process
// listeners synchronously, then each outward transport. One transport
// failing (an offline relay, say) never stops the others.
func (b *Bus) Broadcast(ctx context.Context, eventType, productID, payload string) {
	e := domain.SyncEvent{
		Type:      eventType,
		ProductID: productID,
		Timestamp: time.Now().UTC(),
		OriginID:  b.identity,
		Payload:   payload,
	}

	b.deliver(e, true)
	metrics.BroadcastsTotal.WithLabelValues("local").Inc()

	for _, t := range b.transports {
		if err := t.Publish(ctx, e); err != nil {
			b.lg.Debug().Err(err).Str("transport", t.Name()).Msg("publish failed")
			continue
		}
		metrics.BroadcastsTotal.WithLabelValues(t.Name()).Inc()
	}
}

// PollNow drains every transport immediately (used by force-sync).
func (b *Bus) PollNow(ctx context.Context) {
	b.pollOnce(ctx)
}

// deliver fans an event out to listeners, applying echo suppression and the
// staleness cutoff for foreign events. A locally originated broadcast skips
// the echo check so same-tab listeners still hear their own writes.
func (b *Bus) deliver(e domain.SyncEvent, ownBroadcast bool) {
	if !ownBroadcast {
		if e.OriginID == b.identity {
			metrics.EventsDropped.WithLabelValues("echo").Inc()
			return
		}
		if e.Stale(time.Now(), b.ttl) {
			metrics.EventsDropped.WithLabelValues("stale").Inc()
			return
		}
	}

	b.mu.RLock()
	fns := make([]Listener, 0, len(b.listeners[e.Type]))
	for _, fn := range b.listeners[e.Type] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

func (b *Bus) pollLoop(ctx context.Context, interval time.Duration) {
	defer b.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.pollOnce(ctx)
		}
	}
}

func (b *Bus) pollOnce(ctx context.Context) {
	b.mu.Lock()
	since := b.lastPoll
	b.lastPoll = time.Now()
	b.mu.Unlock()

	for _, t := range b.transports {
		events, err := t.Poll(ctx, b.identity, since)
		if err != nil {
			b.lg.Debug().Err(err).Str("transport", t.Name()).Msg("poll failed")
			continue
		}
		for _, e := range events {
			b.deliver(e, false)
		}
	}
}
