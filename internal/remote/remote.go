// Package remote provides off-device product storage behind one contract
// with two interchangeable backends: an HTTP file-store service and a
// hosted Postgres database. Both queue writes while offline and replay them
// in order when connectivity returns; reads are best-effort and degrade to
// empty results because their only consumer wants catalog data to render.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

// Error taxonomy. Callers branch with errors.Is.
var (
	// ErrUnreachable marks a network failure or timeout. Saves and deletes
	// hitting this are queued, not surfaced.
	ErrUnreachable = errors.New("remote: unreachable")
	// ErrServer marks a 4xx/5xx or a malformed response body. Surfaced for
	// save/delete after queueing so callers can warn.
	ErrServer = errors.New("remote: server error")
)

// Health is the liveness probe result.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime,omitempty"`
}

// Store is the remote tier contract, identical across backends.
//
// Save and Delete enqueue on unreachability and return optimistically;
// while offline the returned record is the input, not proof of remote
// durability. Read methods never propagate transport errors: they return
// empty or absent results instead.
type Store interface {
	Health(ctx context.Context) (Health, error)
	Save(ctx context.Context, p domain.Product) (domain.Product, error)
	// SaveStrict is the opt-in synchronous write: no offline queueing, the
	// transport error comes straight back to the caller.
	SaveStrict(ctx context.Context, p domain.Product) (domain.Product, error)
	GetAll(ctx context.Context) []domain.Product
	GetByID(ctx context.Context, id string) (domain.Product, bool)
	Delete(ctx context.Context, id string) error
	UpdateViews(ctx context.Context, id string) (int64, bool)
	Search(ctx context.Context, query string) []domain.Product
	GetByCategory(ctx context.Context, category string) []domain.Product
	// Sync pushes a merged record set for server-side last-write-wins
	// persistence and returns the server's record count.
	Sync(ctx context.Context, products []domain.Product) (int, error)
	// Flush replays the offline queue immediately. Pending reports depth.
	Flush(ctx context.Context)
	Pending() int
	Close()
}
