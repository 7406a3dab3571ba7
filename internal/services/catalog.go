// Package services – Catalog
//
// Catalog composes the local durable store, the lightweight registry, the
// blob store, an optional remote tier, and the change broadcast bus behind
// one CRUD-plus-sync contract. Writes land locally first (the only write
// guaranteed to succeed from the caller's perspective), mirror outward
// best-effort, and fan out change notifications; a periodic reconciliation
// pass converges the local and remote tiers by last-write-wins.
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storefront-labs/go-catalog-sync/internal/blobstore"
	"github.com/storefront-labs/go-catalog-sync/internal/bus"
	"github.com/storefront-labs/go-catalog-sync/internal/domain"
	"github.com/storefront-labs/go-catalog-sync/internal/localstore"
	"github.com/storefront-labs/go-catalog-sync/internal/metrics"
	"github.com/storefront-labs/go-catalog-sync/internal/registry"
	"github.com/storefront-labs/go-catalog-sync/internal/remote"
)

// Mode names the storage topology the facade is running in.
type Mode string

const (
	// ModeLocal means no reachable remote tier: local mechanisms only.
	ModeLocal Mode = "local"
	// ModeHybrid means local plus the file-store HTTP service.
	ModeHybrid Mode = "hybrid"
	// ModeHosted means local plus the hosted database.
	ModeHosted Mode = "hosted"
)

// Deps are the collaborators a Catalog is built from. Local, Registry,
// Blobs, and Bus are required; the remote candidates are optional and drive
// mode selection.
type Deps struct {
	Local    *localstore.Store
	Registry *registry.Registry
	Blobs    *blobstore.Store
	Bus      *bus.Bus

	// Hosted is preferred when reachable; FileServer is the hybrid-mode
	// fallback. Either may be nil.
	Hosted     remote.Store
	FileServer remote.Store

	// SyncInterval drives periodic reconciliation (default 60s).
	SyncInterval time.Duration
}

// Catalog is the unified storage facade. Construct with New, begin the
// background reconciliation with Start, and always Close on shutdown so the
// timers are torn down. Safe for concurrent use.
type Catalog struct {
	local *localstore.Store
	reg   *registry.Registry
	blobs *blobstore.Store
	bus   *bus.Bus

	hosted     remote.Store
	fileServer remote.Store

	mu     sync.RWMutex
	mode   Mode
	active remote.Store // nil in local mode

	interval time.Duration
	cancel   context.CancelFunc
	unsubs   []func()
	wg       sync.WaitGroup
	lg       zerolog.Logger
}

// New selects the startup mode (hosted preferred, then hybrid, then local)
// by probing the configured remote candidates and returns the facade.
func New(ctx context.Context, d Deps) *Catalog {
	if d.SyncInterval <= 0 {
		d.SyncInterval = 60 * time.Second
	}
	c := &Catalog{
		local:      d.Local,
		reg:        d.Registry,
		blobs:      d.Blobs,
		bus:        d.Bus,
		hosted:     d.Hosted,
		fileServer: d.FileServer,
		interval:   d.SyncInterval,
		lg:         log.With().Str("component", "catalog").Logger(),
	}
	c.mode, c.active = c.selectMode(ctx)
	c.lg.Info().Str("mode", string(c.mode)).Msg("storage mode selected")
	return c
}

// selectMode probes the candidates. Mode is fixed until SwitchMode is
// called; it is not re-evaluated continuously.
func (c *Catalog) selectMode(ctx context.Context) (Mode, remote.Store) {
	if c.hosted != nil {
		if _, err := c.hosted.Health(ctx); err == nil {
			return ModeHosted, c.hosted
		}
		c.lg.Warn().Msg("hosted backend configured but unreachable")
	}
	if c.fileServer != nil {
		if _, err := c.fileServer.Health(ctx); err == nil {
			return ModeHybrid, c.fileServer
		}
	}
	return ModeLocal, nil
}

// Mode reports the active storage mode.
func (c *Catalog) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SwitchMode re-runs mode selection on demand.
func (c *Catalog) SwitchMode(ctx context.Context) Mode {
	mode, active := c.selectMode(ctx)
	c.mu.Lock()
	c.mode, c.active = mode, active
	c.mu.Unlock()
	c.lg.Info().Str("mode", string(mode)).Msg("storage mode switched")
	return mode
}

func (c *Catalog) remoteTier() remote.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Start launches the periodic reconciliation loop and subscribes the
// facade to foreign change events so edits made in other contexts land in
// the local tiers without waiting for the next full pass.
func (c *Catalog) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.unsubs = append(c.unsubs,
		c.bus.AddListener(domain.EventAdded, c.foreign(func(e domain.SyncEvent) { c.absorb(ctx, e.ProductID) })),
		c.bus.AddListener(domain.EventUpdated, c.foreign(func(e domain.SyncEvent) { c.absorb(ctx, e.ProductID) })),
		c.bus.AddListener(domain.EventDeleted, c.foreign(func(e domain.SyncEvent) {
			if e.ProductID == "" {
				return
			}
			if err := c.local.Delete(ctx, e.ProductID); err != nil {
				c.lg.Debug().Err(err).Str("id", e.ProductID).Msg("foreign delete had nothing to remove")
			}
			c.reg.Delete(e.ProductID)
		})),
		c.bus.AddListener(domain.EventFullResync, c.foreign(func(domain.SyncEvent) { c.reconcile(ctx, "broadcast") })),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.reconcile(ctx, "interval")
			}
		}
	}()
}

// Close tears down the reconciliation timer and the bus subscriptions. The
// bus and stores have their own Close; the facade does not own their
// lifecycles.
func (c *Catalog) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

// foreign wraps a listener so the facade's own broadcasts are skipped. The
// bus delivers local broadcasts to same-process listeners too; re-absorbing
// a record this process just wrote would double every write path.
func (c *Catalog) foreign(fn func(domain.SyncEvent)) func(domain.SyncEvent) {
	return func(e domain.SyncEvent) {
		if e.OriginID == c.bus.Identity() {
			return
		}
		fn(e)
	}
}

// absorb pulls a single foreign record from the remote tier into the local
// ones. Without a remote tier the event is advisory only; the payload never
// carries the record itself.
func (c *Catalog) absorb(ctx context.Context, id string) {
	if id == "" {
		return
	}
	rt := c.remoteTier()
	if rt == nil {
		return
	}
	p, ok := rt.GetByID(ctx, id)
	if !ok {
		return
	}
	if _, err := c.local.Save(ctx, p); err != nil {
		c.lg.Warn().Err(err).Str("id", id).Msg("absorbing foreign record failed")
		return
	}
	if _, dropped := c.reg.Register(p); dropped > 0 {
		c.lg.Debug().Int("dropped", dropped).Str("id", id).Msg("registry truncated absorbed record")
	}
}

// SaveProduct persists the record through every tier the mode reaches.
// The local write is the one that can fail the call; remote mirroring is
// best-effort and logged. Returns the locally saved record (not the
// remote-confirmed one, since remote may be offline or queued).
func (c *Catalog) SaveProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if strings.TrimSpace(p.Name) == "" {
		return domain.Product{}, ErrInvalidProduct
	}
	created := false
	if p.ID == "" {
		p.ID = uuid.NewString()
		created = true
	} else if _, exists := c.local.GetByID(ctx, p.ID); !exists {
		created = true
	}
	if p.Slug == "" {
		p.Slug = domain.Slugify(p.Name)
	}
	if p.Route == "" {
		p.Route = domain.RouteFor(p.Slug)
	}
	// An edit is a new write; this stamp is what the LWW merge orders by.
	p.LastUpdated = time.Now().UTC()

	// Convert any embedded image payloads into blob references before the
	// record touches a store.
	p.Images = c.blobs.PersistAll(p.Images)
	for i := range p.Reviews {
		p.Reviews[i].Images = c.blobs.PersistAll(p.Reviews[i].Images)
	}

	saved, err := c.local.Save(ctx, p)
	if err != nil {
		c.lg.Error().Err(err).Str("id", p.ID).Msg("local save failed")
		return domain.Product{}, ErrLocalUnavailable
	}

	if _, dropped := c.reg.Register(saved); dropped > 0 {
		c.lg.Debug().Int("dropped", dropped).Str("id", saved.ID).Msg("registry truncated persisted copy")
	}

	if rt := c.remoteTier(); rt != nil {
		if _, rerr := rt.Save(ctx, saved); rerr != nil {
			c.lg.Warn().Err(rerr).Str("id", saved.ID).Msg("remote mirror failed, product saved locally")
		}
	}

	eventType := domain.EventUpdated
	if created {
		eventType = domain.EventAdded
	}
	c.bus.Broadcast(ctx, eventType, saved.ID, "")

	return saved, nil
}

// GetAllProducts returns the catalog. In hybrid/hosted mode the remote set
// is preferred and back-filled into the local tier (local becomes a cache
// of remote); remote failure or emptiness falls back to local.
func (c *Catalog) GetAllProducts(ctx context.Context) []domain.Product {
	if rt := c.remoteTier(); rt != nil {
		if remoteSet := rt.GetAll(ctx); len(remoteSet) > 0 {
			for _, p := range remoteSet {
				if _, err := c.local.Save(ctx, p); err != nil {
					c.lg.Warn().Err(err).Str("id", p.ID).Msg("local backfill failed")
				}
			}
			return remoteSet
		}
	}
	local, err := c.local.GetAll(ctx)
	if err != nil {
		c.lg.Warn().Err(err).Msg("local read failed")
		return nil
	}
	return local
}

// GetProductByID is local-first for latency, with remote fallback-and-cache
// on a local miss.
func (c *Catalog) GetProductByID(ctx context.Context, id string) (domain.Product, error) {
	if p, ok := c.local.GetByID(ctx, id); ok {
		return p, nil
	}
	if rt := c.remoteTier(); rt != nil {
		if p, ok := rt.GetByID(ctx, id); ok {
			if _, err := c.local.Save(ctx, p); err != nil {
				c.lg.Warn().Err(err).Str("id", id).Msg("local cache of remote record failed")
			}
			return p, nil
		}
	}
	return domain.Product{}, ErrProductNotFound
}

// DeleteProduct removes the record from every tier the facade knows about.
// The local outcome is authoritative for the return value; the remote
// delete is best-effort, and the deletion event broadcasts regardless.
func (c *Catalog) DeleteProduct(ctx context.Context, id string) bool {
	deleted := true
	if err := c.local.Delete(ctx, id); err != nil {
		c.lg.Warn().Err(err).Str("id", id).Msg("local delete failed")
		deleted = false
	}
	c.reg.Delete(id)

	if rt := c.remoteTier(); rt != nil {
		if err := rt.Delete(ctx, id); err != nil {
			c.lg.Warn().Err(err).Str("id", id).Msg("remote delete failed")
		}
	}

	c.bus.Broadcast(ctx, domain.EventDeleted, id, "")
	return deleted
}

// UpdateProductViews bumps the view counter on the tier that is
// authoritative for the active mode and returns the result. The counter is
// lossy under concurrent increments across contexts; a missing id yields 0.
func (c *Catalog) UpdateProductViews(ctx context.Context, id string) int64 {
	if rt := c.remoteTier(); rt != nil {
		if views, ok := rt.UpdateViews(ctx, id); ok {
			// Keep the local copy roughly in step.
			if p, exists := c.local.GetByID(ctx, id); exists {
				p.PageViews = views
				if _, err := c.local.Save(ctx, p); err != nil {
					c.lg.Debug().Err(err).Str("id", id).Msg("local view sync failed")
				}
			}
			return views
		}
	}
	views, err := c.local.UpdateViews(ctx, id)
	if err != nil {
		c.lg.Warn().Err(err).Str("id", id).Msg("view update failed")
		return 0
	}
	return views
}

// SearchProducts matches the query case-insensitively against name,
// description, features, and category, preferring the remote tier's search
// and falling back to a local scan.
func (c *Catalog) SearchProducts(ctx context.Context, query string) []domain.Product {
	if rt := c.remoteTier(); rt != nil {
		if hits := rt.Search(ctx, query); len(hits) > 0 {
			return hits
		}
	}
	all, err := c.local.GetAll(ctx)
	if err != nil {
		return nil
	}
	return FilterProducts(all, query)
}

// ForceSync runs the reconciliation pass immediately and drains any pending
// cross-device events from the bus transports.
func (c *Catalog) ForceSync(ctx context.Context) {
	c.reconcile(ctx, "forced")
	c.bus.PollNow(ctx)
}

// reconcile merges the local and remote record sets by LastUpdated and
// writes the merged superset back to both tiers. This pass is what finally
// converges two contexts that edited the same catalog offline. It can race
// a concurrent save; because the merge itself is last-write-wins, the
// fresher write still wins on the next pass even if it loses this one.
func (c *Catalog) reconcile(ctx context.Context, trigger string) {
	metrics.ReconciliationsTotal.WithLabelValues(trigger).Inc()

	rt := c.remoteTier()
	if rt == nil {
		// Nothing to converge with; still promote mirror-only records.
		c.local.Promote(ctx)
		return
	}

	local, err := c.local.GetAll(ctx)
	if err != nil {
		c.lg.Warn().Err(err).Msg("reconcile: local read failed")
		return
	}
	merged := domain.MergeSets(local, rt.GetAll(ctx))

	for _, p := range merged {
		if _, err := c.local.Save(ctx, p); err != nil {
			c.lg.Warn().Err(err).Str("id", p.ID).Msg("reconcile: local write failed")
		}
	}
	if _, err := rt.Sync(ctx, merged); err != nil {
		c.lg.Warn().Err(err).Msg("reconcile: remote sync failed")
	}
	rt.Flush(ctx)

	c.lg.Debug().Int("records", len(merged)).Str("trigger", trigger).Msg("reconciliation pass complete")
}

// FilterProducts is the local search fallback shared with the HTTP layer:
// case-insensitive substring match on name, description, features, and
// category.
func FilterProducts(all []domain.Product, query string) []domain.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []domain.Product
	for _, p := range all {
		if matchesQuery(p, q) {
			out = append(out, p)
		}
	}
	return out
}

func matchesQuery(p domain.Product, q string) bool {
	if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Category), q) {
		return true
	}
	for _, d := range p.Description {
		if strings.Contains(strings.ToLower(d), q) {
			return true
		}
	}
	for _, f := range p.Features {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}
