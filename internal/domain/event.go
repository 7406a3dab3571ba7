package domain

import "time"

// Event types carried by the change broadcast bus.
const (
	EventAdded      = "added"
	EventUpdated    = "updated"
	EventDeleted    = "deleted"
	EventFullResync = "full-resync"
)

// SyncEvent is an ephemeral, fire-and-forget change notification. Events are
// never persisted beyond the natural lifetime of their propagation mechanism
// (a spool file, a relay table row) and receivers drop anything older than
// the bus TTL.
type SyncEvent struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	OriginID  string    `json:"origin_id"`
	Payload   string    `json:"payload,omitempty"`
}

// Stale reports whether the event is older than ttl at the given instant.
func (e SyncEvent) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) > ttl
}
