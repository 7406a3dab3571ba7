package localstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
	"github.com/storefront-labs/go-catalog-sync/internal/kvfile"
)

const mirrorKey = "record-" // per-product key in the kv mirror

// Options tunes the store's mirrors and background reconciliation.
type Options struct {
	// DataDir roots the kv mirror and jar files. Empty disables both.
	DataDir string
	// JarLimit bounds the rolling jar (default 50).
	JarLimit int
	// PromoteInterval is how often mirror-only records are promoted into
	// the database. Zero disables the timer (promotion still happens on
	// demand via Promote).
	PromoteInterval time.Duration
}

// Store is the local durable tier. The SQLite database is authoritative;
// the kv mirror and jar are best-effort replicas; an in-memory map backs
// everything when the database is nil (persistence fully unavailable).
// Safe for concurrent use.
type Store struct {
	db     *gorm.DB // nil when persistence is unavailable
	mirror *kvfile.Store
	jar    *jar

	mu  sync.RWMutex
	mem map[string]domain.Product // fallback when db == nil

	lg     zerolog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Store over an optional database handle. Passing a nil db puts
// the store into in-memory mode, which is the accepted degradation when the
// host environment has no persistence at all; it is logged loudly once.
func New(db *gorm.DB, opts Options) *Store {
	s := &Store{
		db:     db,
		mirror: kvfile.Open(opts.DataDir, "product_mirror"),
		jar:    newJar(opts.DataDir, opts.JarLimit),
		mem:    make(map[string]domain.Product),
		lg:     log.With().Str("component", "localstore").Logger(),
	}
	if db == nil {
		s.lg.Error().Msg("no database available, local store is in-memory only for this session")
	}
	if opts.PromoteInterval > 0 && db != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.promoteLoop(ctx, opts.PromoteInterval)
	}
	return s
}

// Close stops the background promotion timer.
func (s *Store) Close() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}

// Save assigns a GlobalID if absent, fills in zero timestamps, writes the
// primary tier, and mirrors best-effort. Only the primary write can fail the call;
// mirror failures are swallowed and logged.
func (s *Store) Save(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.GlobalID == "" {
		p.GlobalID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	// Synced records carry their own LastUpdated; re-stamping here would
	// make every cached copy "newer" than its origin and corrupt the
	// last-write-wins merge. Only a zero stamp is filled in.
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}

	if s.db == nil {
		s.mu.Lock()
		s.mem[p.ID] = p.Clone()
		s.mu.Unlock()
		s.saveMirrors(p)
		return p, nil
	}

	row, err := rowFromProduct(p)
	if err != nil {
		return domain.Product{}, err
	}
	// Upsert keyed by the caller-assigned ID: re-saving the same product
	// replaces its row rather than accumulating copies.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing productRow
		ferr := tx.Where("product_id = ?", p.ID).First(&existing).Error
		switch {
		case ferr == nil:
			row.GlobalID = existing.GlobalID
			return tx.Model(&productRow{}).Where("global_id = ?", existing.GlobalID).
				Select("*").Updates(row).Error
		case errors.Is(ferr, gorm.ErrRecordNotFound):
			return tx.Create(&row).Error
		default:
			return ferr
		}
	})
	if err != nil {
		return domain.Product{}, err
	}
	p.GlobalID = row.GlobalID

	s.saveMirrors(p)
	return p, nil
}

func (s *Store) saveMirrors(p domain.Product) {
	if err := s.mirror.Put(mirrorKey+p.ID, p); err != nil {
		s.lg.Warn().Err(err).Str("id", p.ID).Msg("kv mirror write failed")
	}
	if err := s.jar.put(jarEntry{ID: p.ID, Category: p.Category, LastUpdated: p.LastUpdated}); err != nil {
		s.lg.Warn().Err(err).Str("id", p.ID).Msg("jar write failed")
	}
}

// GetAll reads the database and merges in mirror-only records (the recovery
// path for writes made while the database was unavailable), deduplicated by
// ID, newest first.
func (s *Store) GetAll(ctx context.Context) ([]domain.Product, error) {
	byID := make(map[string]domain.Product)

	if s.db != nil {
		var rows []productRow
		if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
			s.lg.Warn().Err(err).Msg("database read failed, serving mirrors only")
		} else {
			for _, row := range rows {
				p, perr := row.product()
				if perr != nil {
					s.lg.Warn().Err(perr).Str("id", row.ID).Msg("corrupt product document skipped")
					continue
				}
				byID[p.ID] = p
			}
		}
	} else {
		s.mu.RLock()
		for id, p := range s.mem {
			byID[id] = p.Clone()
		}
		s.mu.RUnlock()
	}

	for _, key := range s.mirror.Keys() {
		var p domain.Product
		if err := s.mirror.Get(key, &p); err != nil {
			continue
		}
		if _, ok := byID[p.ID]; !ok {
			byID[p.ID] = p
		}
	}

	out := make([]domain.Product, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	domain.SortByCreatedDesc(out)
	return out, nil
}

// GetByID looks the record up through the secondary index on the
// caller-assigned ID, falling back to the kv mirror. A missing record is
// (zero, false), never an error.
func (s *Store) GetByID(ctx context.Context, id string) (domain.Product, bool) {
	if s.db != nil {
		var row productRow
		err := s.db.WithContext(ctx).Where("product_id = ?", id).First(&row).Error
		if err == nil {
			if p, perr := row.product(); perr == nil {
				return p, true
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.lg.Warn().Err(err).Str("id", id).Msg("database lookup failed, trying mirror")
		}
	} else {
		s.mu.RLock()
		p, ok := s.mem[id]
		s.mu.RUnlock()
		if ok {
			return p.Clone(), true
		}
	}

	var p domain.Product
	if err := s.mirror.Get(mirrorKey+id, &p); err == nil {
		return p, true
	}
	return domain.Product{}, false
}

// Delete removes the record from the database (resolving the primary key
// through the secondary index first) and from both mirrors. A record
// present only in a mirror is still deletable.
func (s *Store) Delete(ctx context.Context, id string) error {
	var primaryErr error
	if s.db != nil {
		var row productRow
		err := s.db.WithContext(ctx).Where("product_id = ?", id).First(&row).Error
		switch {
		case err == nil:
			primaryErr = s.db.WithContext(ctx).Where("global_id = ?", row.GlobalID).Delete(&productRow{}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Mirror-only record; nothing to remove from the database.
		default:
			primaryErr = err
		}
	} else {
		s.mu.Lock()
		delete(s.mem, id)
		s.mu.Unlock()
	}

	if err := s.mirror.Delete(mirrorKey + id); err != nil {
		s.lg.Warn().Err(err).Str("id", id).Msg("mirror delete failed")
	}
	if err := s.jar.remove(id); err != nil {
		s.lg.Warn().Err(err).Str("id", id).Msg("jar delete failed")
	}
	return primaryErr
}

// UpdateViews increments the page-view counter via read-modify-write. Two
// concurrent increments can both read the same starting count and lose one
// of the increments; that lossy-counter tradeoff is accepted and documented
// rather than papered over with a lock the other tiers cannot honor anyway.
// A missing id returns 0 without error.
func (s *Store) UpdateViews(ctx context.Context, id string) (int64, error) {
	p, ok := s.GetByID(ctx, id)
	if !ok {
		return 0, nil
	}
	p.PageViews++
	p.LastUpdated = time.Now().UTC()
	saved, err := s.Save(ctx, p)
	if err != nil {
		return 0, err
	}
	return saved.PageViews, nil
}

// Promote pulls records sitting in the kv mirror that never made it into
// the database (recognizable by a missing GlobalID or by simple absence)
// and writes them through Save. Returns the number promoted.
func (s *Store) Promote(ctx context.Context) int {
	if s.db == nil {
		return 0
	}
	promoted := 0
	for _, key := range s.mirror.Keys() {
		var p domain.Product
		if err := s.mirror.Get(key, &p); err != nil {
			continue
		}
		var row productRow
		err := s.db.WithContext(ctx).Where("product_id = ?", p.ID).First(&row).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if _, err := s.Save(ctx, p); err == nil {
			promoted++
		}
	}
	if promoted > 0 {
		s.lg.Info().Int("count", promoted).Msg("promoted mirror-only records into database")
	}
	return promoted
}

func (s *Store) promoteLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Promote(ctx)
		}
	}
}
