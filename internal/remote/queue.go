package remote

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
	"github.com/storefront-labs/go-catalog-sync/internal/metrics"
)

type opKind int

const (
	opSave opKind = iota
	opDelete
)

// pendingOp is one queued write awaiting replay.
type pendingOp struct {
	kind    opKind
	product domain.Product // opSave
	id      string         // opDelete
}

// offlineQueue is an ordered list of writes that could not reach the
// backend. Replay walks the queue in enqueue order; an op that fails again
// is re-enqueued at the tail without blocking the ops behind it.
type offlineQueue struct {
	mu  sync.Mutex
	ops []pendingOp
	lg  zerolog.Logger
}

func (q *offlineQueue) enqueue(op pendingOp) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	depth := len(q.ops)
	q.mu.Unlock()
	metrics.RemoteQueueDepth.Set(float64(depth))
	q.lg.Info().Int("depth", depth).Msg("queued write for replay")
}

func (q *offlineQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// replay drains the queue through apply. Ops failing replay go back to the
// tail; replay stops after one full pass so a persistently failing op
// cannot spin the loop.
func (q *offlineQueue) replay(ctx context.Context, apply func(context.Context, pendingOp) error) {
	q.mu.Lock()
	batch := q.ops
	q.ops = nil
	q.mu.Unlock()

	for i, op := range batch {
		if ctx.Err() != nil {
			// Shutdown mid-replay: push the remainder back.
			q.mu.Lock()
			q.ops = append(batch[i:], q.ops...)
			q.mu.Unlock()
			break
		}
		if err := apply(ctx, op); err != nil {
			q.lg.Warn().Err(err).Msg("replay failed, re-enqueueing at tail")
			q.mu.Lock()
			q.ops = append(q.ops, op)
			q.mu.Unlock()
		}
	}
	metrics.RemoteQueueDepth.Set(float64(q.depth()))
}
