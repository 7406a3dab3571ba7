// Package registry maintains the lightweight product index: a bounded list
// of summaries kept apart from full-record storage so one oversized record
// can never corrupt the index of what exists. Full records are sanitized
// (image and review lists capped) before they are persisted; the in-memory
// cache always holds the unsanitized record for the current process.
//
// The registry never returns an error for degraded storage. Quota or
// corruption failures trigger a clear-and-retry with a minimal payload, and
// the worst case leaves the record cached in memory for the session.
package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
	"github.com/storefront-labs/go-catalog-sync/internal/kvfile"
)

// ErrNotFound is returned by Update when the id has never been registered.
// Update never implicitly creates.
var ErrNotFound = errors.New("registry: product not found")

const (
	indexKey  = "summary-index"
	recordKey = "product-" // per-product record entries
)

// Caps bounds what gets persisted per record. The caps are a deliberate
// lossy protection of the storage budget, not a statement about the logical
// record, which stays intact in memory.
type Caps struct {
	MaxImages       int
	MaxReviews      int
	MaxReviewImages int
}

// DefaultCaps are the standard persistence limits.
func DefaultCaps() Caps {
	return Caps{MaxImages: 4, MaxReviews: 10, MaxReviewImages: 2}
}

// Registry is the summary index plus read-through record cache.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	cache map[string]domain.Product

	index   *kvfile.Store // summary index namespace
	records *kvfile.Store // full-record namespace
	caps    Caps
	lg      zerolog.Logger
	nowFn   func() time.Time
}

// New builds a Registry over two kvfile namespaces rooted at dir.
func New(dir string, caps Caps) *Registry {
	if caps.MaxImages <= 0 {
		caps = DefaultCaps()
	}
	return &Registry{
		cache:   make(map[string]domain.Product),
		index:   kvfile.Open(dir, "registry_index"),
		records: kvfile.Open(dir, "registry_records"),
		caps:    caps,
		lg:      log.With().Str("component", "registry").Logger(),
		nowFn:   time.Now,
	}
}

// Register derives a summary from the record, upserts it into the index and
// persists the sanitized full record. It returns the number of items the
// sanitizer dropped so callers can surface the truncation.
func (r *Registry) Register(p domain.Product) (id string, dropped int) {
	if p.Slug == "" {
		p.Slug = domain.Slugify(p.Name)
	}
	if p.Route == "" {
		p.Route = domain.RouteFor(p.Slug)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.nowFn()
	}

	r.mu.Lock()
	r.cache[p.ID] = p.Clone()
	r.mu.Unlock()

	dropped = r.persist(p)
	return p.ID, dropped
}

// Update merges partial fields into the existing record and re-persists
// both the summary and the sanitized record. An id that was never
// registered is a no-op returning ErrNotFound.
func (r *Registry) Update(id string, patch domain.Product) (domain.Product, int, error) {
	existing, ok := r.Get(id)
	if !ok {
		return domain.Product{}, 0, ErrNotFound
	}
	merged := domain.ApplyPatch(existing, patch, r.nowFn())

	r.mu.Lock()
	r.cache[id] = merged.Clone()
	r.mu.Unlock()

	dropped := r.persist(merged)
	return merged, dropped, nil
}

// Get looks a product up by id, slug, or route (with or without the leading
// separator). The in-memory cache is checked first; on miss the record is
// reconstructed from the persisted entries and backfilled into the cache.
func (r *Registry) Get(identifier string) (domain.Product, bool) {
	r.mu.RLock()
	if p, ok := r.lookupLocked(identifier); ok {
		r.mu.RUnlock()
		return p, true
	}
	r.mu.RUnlock()

	// Miss: try the persisted index for any of the three identifier forms.
	var summaries []domain.Summary
	if err := r.index.Get(indexKey, &summaries); err != nil {
		return domain.Product{}, false
	}
	norm := domain.NormalizeRoute(identifier)
	for _, s := range summaries {
		if s.ID != identifier && s.Slug != identifier && domain.NormalizeRoute(s.Route) != norm {
			continue
		}
		var p domain.Product
		if err := r.records.Get(recordKey+s.ID, &p); err != nil {
			return domain.Product{}, false
		}
		r.mu.Lock()
		// Backfill unless a fresher copy landed while we read disk.
		if _, exists := r.cache[p.ID]; !exists {
			r.cache[p.ID] = p.Clone()
		} else {
			p = r.cache[p.ID].Clone()
		}
		r.mu.Unlock()
		return p, true
	}
	return domain.Product{}, false
}

func (r *Registry) lookupLocked(identifier string) (domain.Product, bool) {
	if p, ok := r.cache[identifier]; ok {
		return p.Clone(), true
	}
	norm := domain.NormalizeRoute(identifier)
	for _, p := range r.cache {
		if p.Slug == identifier || domain.NormalizeRoute(p.Route) == norm {
			return p.Clone(), true
		}
	}
	return domain.Product{}, false
}

// GetAll returns every record reachable from the cache or the persisted
// index, newest first. Records present only on one side are reconciled in.
func (r *Registry) GetAll() []domain.Product {
	seen := make(map[string]domain.Product)
	r.mu.RLock()
	for id, p := range r.cache {
		seen[id] = p.Clone()
	}
	r.mu.RUnlock()

	var summaries []domain.Summary
	if err := r.index.Get(indexKey, &summaries); err == nil {
		for _, s := range summaries {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			var p domain.Product
			if err := r.records.Get(recordKey+s.ID, &p); err == nil {
				seen[s.ID] = p
				r.mu.Lock()
				if _, ok := r.cache[s.ID]; !ok {
					r.cache[s.ID] = p.Clone()
				}
				r.mu.Unlock()
			}
		}
	}

	out := make([]domain.Product, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	domain.SortByCreatedDesc(out)
	return out
}

// Summaries returns the persisted summary index (empty on any failure).
func (r *Registry) Summaries() []domain.Summary {
	var summaries []domain.Summary
	if err := r.index.Get(indexKey, &summaries); err != nil {
		return nil
	}
	return summaries
}

// Delete removes the record from the cache, the summary index, and the
// record store. All three removals are attempted regardless of individual
// failures; Delete always reports true once they have been issued.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()

	var summaries []domain.Summary
	if err := r.index.Get(indexKey, &summaries); err == nil {
		kept := summaries[:0]
		for _, s := range summaries {
			if s.ID != id {
				kept = append(kept, s)
			}
		}
		if err := r.index.Put(indexKey, kept); err != nil {
			r.lg.Warn().Err(err).Str("id", id).Msg("summary index delete failed")
		}
	}
	if err := r.records.Delete(recordKey + id); err != nil {
		r.lg.Warn().Err(err).Str("id", id).Msg("record delete failed")
	}
	return true
}

// persist upserts the summary and writes the sanitized record, falling back
// to clear-and-retry with a minimal payload on failure. Returns the dropped
// item count from sanitization.
func (r *Registry) persist(p domain.Product) int {
	sanitized, dropped := r.sanitize(p)

	if err := r.upsertSummary(domain.NewSummary(p)); err != nil {
		r.lg.Warn().Err(err).Str("id", p.ID).Msg("summary persist failed, clearing index and retrying")
		if cerr := r.index.Clear(); cerr == nil {
			if rerr := r.upsertSummary(domain.NewSummary(p)); rerr != nil {
				r.lg.Error().Err(rerr).Str("id", p.ID).Msg("summary retry failed, record survives in memory only")
			}
		}
	}

	if err := r.records.Put(recordKey+p.ID, sanitized); err != nil {
		r.lg.Warn().Err(err).Str("id", p.ID).Msg("record persist failed, retrying with minimal payload")
		minimal := domain.Product{
			ID: p.ID, GlobalID: p.GlobalID, Name: p.Name, Slug: p.Slug,
			Route: p.Route, Price: p.Price, Category: p.Category,
			CreatedAt: p.CreatedAt, LastUpdated: p.LastUpdated,
		}
		if rerr := r.records.Put(recordKey+p.ID, minimal); rerr != nil {
			r.lg.Error().Err(rerr).Str("id", p.ID).Msg("minimal record persist failed, record survives in memory only")
		}
	}
	return dropped
}

func (r *Registry) upsertSummary(s domain.Summary) error {
	var summaries []domain.Summary
	if err := r.index.Get(indexKey, &summaries); err != nil && !errors.Is(err, kvfile.ErrNotFound) {
		// Corrupt index: rebuild from scratch with just this entry.
		return r.index.Put(indexKey, []domain.Summary{s})
	}
	replaced := false
	for i := range summaries {
		if summaries[i].ID == s.ID {
			summaries[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		summaries = append(summaries, s)
	}
	return r.index.Put(indexKey, summaries)
}

// sanitize caps image and review volume on the persisted copy and keeps
// only recognized reference/URL forms in image lists.
func (r *Registry) sanitize(p domain.Product) (domain.Product, int) {
	out := p.Clone()
	dropped := 0

	out.Images = filterRenderable(out.Images, &dropped)
	out.Images, dropped = capStrings(out.Images, r.caps.MaxImages, dropped)

	if len(out.Reviews) > r.caps.MaxReviews {
		dropped += len(out.Reviews) - r.caps.MaxReviews
		out.Reviews = out.Reviews[:r.caps.MaxReviews]
	}
	for i := range out.Reviews {
		out.Reviews[i].Images, dropped = capStrings(out.Reviews[i].Images, r.caps.MaxReviewImages, dropped)
	}
	return out, dropped
}

func capStrings(in []string, max int, dropped int) ([]string, int) {
	if max > 0 && len(in) > max {
		dropped += len(in) - max
		in = in[:max]
	}
	return in, dropped
}

// filterRenderable keeps blob references, URLs, and path-like strings;
// anything else (stray base64 payloads and the like) is dropped from the
// persisted copy rather than bloating it.
func filterRenderable(in []string, dropped *int) []string {
	kept := in[:0]
	for _, img := range in {
		if isRenderable(img) {
			kept = append(kept, img)
		} else {
			*dropped++
		}
	}
	return kept
}

func isRenderable(s string) bool {
	switch {
	case s == "":
		return false
	case strings.HasPrefix(s, "data:"):
		return false // inline payload that escaped conversion
	case len(s) > 2048:
		return false
	default:
		return true
	}
}
