package localstore

import (
	"time"

	"github.com/storefront-labs/go-catalog-sync/internal/kvfile"
)

// jarEntry is the minimal identity breadcrumb kept in the rolling jar:
// enough to know a product existed and when, nothing more. The jar survives
// clearing of both the database and the record mirror.
type jarEntry struct {
	ID          string    `json:"id"`
	Category    string    `json:"category,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

const jarKey = "entries"

// jar is a bounded rolling list of jarEntry persisted through kvfile.
type jar struct {
	store *kvfile.Store
	limit int
}

func newJar(dir string, limit int) *jar {
	if limit <= 0 {
		limit = 50
	}
	return &jar{store: kvfile.Open(dir, "product_jar"), limit: limit}
}

// put upserts an entry, evicting the oldest beyond the limit.
func (j *jar) put(e jarEntry) error {
	var entries []jarEntry
	_ = j.store.Get(jarKey, &entries)
	kept := entries[:0]
	for _, existing := range entries {
		if existing.ID != e.ID {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, e)
	if len(kept) > j.limit {
		kept = kept[len(kept)-j.limit:]
	}
	return j.store.Put(jarKey, kept)
}

func (j *jar) remove(id string) error {
	var entries []jarEntry
	if err := j.store.Get(jarKey, &entries); err != nil {
		return nil
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	return j.store.Put(jarKey, kept)
}
