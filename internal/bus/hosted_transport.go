package bus

import (
	"context"
	"time"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

// EventTable is the slice of the hosted database the cross-device tier
// needs: append an event, read foreign events after a point in time.
// remote.Hosted satisfies it.
type EventTable interface {
	PublishEvent(ctx context.Context, e domain.SyncEvent) error
	EventsSince(ctx context.Context, origin string, since time.Time) []domain.SyncEvent
}

// HostedTransport is the cross-device tier backed by the hosted database's
// event table instead of the HTTP relay. Used in hosted mode.
type HostedTransport struct {
	table EventTable
}

var _ Transport = (*HostedTransport)(nil)

// NewHostedTransport wraps an event table.
func NewHostedTransport(table EventTable) *HostedTransport {
	return &HostedTransport{table: table}
}

// Name identifies the tier in logs and metrics.
func (h *HostedTransport) Name() string { return "hosted" }

// Publish appends to the event table.
func (h *HostedTransport) Publish(ctx context.Context, e domain.SyncEvent) error {
	return h.table.PublishEvent(ctx, e)
}

// Poll reads foreign events after since.
func (h *HostedTransport) Poll(ctx context.Context, origin string, since time.Time) ([]domain.SyncEvent, error) {
	return h.table.EventsSince(ctx, origin, since), nil
}
