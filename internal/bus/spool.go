package bus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

// SpoolTransport propagates events between processes on the same machine
// through a shared directory: publishers drop a one-event JSON file, other
// processes observe it on their next poll, and files older than the TTL are
// swept on every pass. This is the write-then-remove shared-storage pattern
// with the removal deferred long enough for slow pollers to see the file.
type SpoolTransport struct {
	dir string
	ttl time.Duration
}

var _ Transport = (*SpoolTransport)(nil)

// NewSpoolTransport binds the transport to a shared spool directory.
func NewSpoolTransport(dir string, ttl time.Duration) (*SpoolTransport, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SpoolTransport{dir: dir, ttl: ttl}, nil
}

// Name identifies the tier in logs and metrics.
func (s *SpoolTransport) Name() string { return "spool" }

// Publish drops the event file. Uniquely named so concurrent publishers
// never clobber one another.
func (s *SpoolTransport) Publish(_ context.Context, e domain.SyncEvent) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	name := filepath.Join(s.dir, "evt-"+uuid.NewString()+".json")
	return os.WriteFile(name, raw, 0o644)
}

// Poll reads every live foreign event file newer than since and sweeps
// expired files as it goes.
func (s *SpoolTransport) Poll(_ context.Context, origin string, since time.Time) ([]domain.SyncEvent, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []domain.SyncEvent
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e domain.SyncEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			_ = os.Remove(path) // junk file, sweep it
			continue
		}
		if e.Stale(now, s.ttl) {
			_ = os.Remove(path)
			continue
		}
		if e.OriginID == origin || !e.Timestamp.After(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
