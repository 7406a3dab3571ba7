// Cross-device sync relay endpoints.
//
// Writers POST /broadcast-sync; readers poll GET /sync-events with their
// own origin id so their echoes are filtered out server-side. The backing
// log is in-memory and bounded, so a restart simply loses history; pollers
// recover through their normal reconciliation pass.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

// SyncRelay is the bounded event log behind the relay endpoints.
type SyncRelay interface {
	Add(e domain.SyncEvent)
	Since(origin string, since time.Time) []domain.SyncEvent
}

// BroadcastSync records a sync event for other origins to pick up.
func (h *Handlers) BroadcastSync(c *gin.Context) {
	var e domain.SyncEvent
	if err := c.ShouldBindJSON(&e); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if e.Type == "" || e.OriginID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type and origin_id are required")
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	h.relay.Add(e)
	ok(c, http.StatusOK, gin.H{"success": true})
}

// SyncEvents returns events newer than since from origins other than the
// caller's. since is unix milliseconds; absent or malformed means "all".
func (h *Handlers) SyncEvents(c *gin.Context) {
	origin := c.Query("browserId")
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}
	events := h.relay.Since(origin, since)
	if events == nil {
		events = []domain.SyncEvent{}
	}
	ok(c, http.StatusOK, gin.H{"events": events})
}
