package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

// hostedRow is one product in the hosted database: the full record as an
// opaque document plus promoted columns for server-side filtering.
type hostedRow struct {
	ID          string    `gorm:"column:product_id;type:varchar(64);primaryKey"`
	Name        string    `gorm:"column:name;type:varchar(255);not null"`
	Category    string    `gorm:"column:category;type:varchar(128);index"`
	Route       string    `gorm:"column:route;type:varchar(255)"`
	Doc         string    `gorm:"column:doc;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	LastUpdated time.Time `gorm:"column:last_updated;index"`
}

func (hostedRow) TableName() string { return "hosted_products" }

// hostedEvent is one relayed sync event, keyed by a composite of origin
// identity and timestamp so the "after time X, not from me" poll is one
// indexed query.
type hostedEvent struct {
	OriginID  string    `gorm:"column:origin_id;type:varchar(64);primaryKey"`
	Stamp     int64     `gorm:"column:stamp_ns;primaryKey"` // UnixNano, part of the key
	Type      string    `gorm:"column:type;type:varchar(32);not null"`
	ProductID string    `gorm:"column:product_id;type:varchar(64)"`
	Payload   string    `gorm:"column:payload;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
}

func (hostedEvent) TableName() string { return "sync_events" }

// Hosted is the hosted-database backend of the remote contract.
// Safe for concurrent use.
type Hosted struct {
	db      *gorm.DB
	queue   offlineQueue
	started time.Time

	mu sync.Mutex // serializes queue replay
}

var _ Store = (*Hosted)(nil)

// OpenHosted connects to the hosted database and migrates its two tables.
func OpenHosted(dsn string) (*Hosted, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	_ = db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
	if err := db.AutoMigrate(&hostedRow{}, &hostedEvent{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrServer, err)
	}
	h := &Hosted{db: db, started: time.Now()}
	h.queue.lg = log.With().Str("component", "remote.hosted").Logger()
	return h, nil
}

// Close releases the connection pool.
func (h *Hosted) Close() {
	if sqlDB, err := h.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Health pings the underlying connection.
func (h *Hosted) Health(ctx context.Context) (Health, error) {
	sqlDB, err := h.db.DB()
	if err != nil {
		return Health{}, fmt.Errorf("%w: %v", ErrServer, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return Health{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return Health{Status: "ok", Timestamp: time.Now().UTC(), Uptime: time.Since(h.started).Seconds()}, nil
}

// Save upserts the record, queueing it when the database is unreachable.
func (h *Hosted) Save(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := h.put(ctx, p); err != nil {
		h.queue.enqueue(pendingOp{kind: opSave, product: p})
		if errors.Is(err, ErrUnreachable) {
			return p, nil
		}
		return p, err
	}
	return p, nil
}

// SaveStrict writes with no queue fallback.
func (h *Hosted) SaveStrict(ctx context.Context, p domain.Product) (domain.Product, error) {
	if err := h.put(ctx, p); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (h *Hosted) put(ctx context.Context, p domain.Product) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrServer, err)
	}
	row := hostedRow{
		ID: p.ID, Name: p.Name, Category: p.Category, Route: p.Route,
		Doc: string(doc), CreatedAt: p.CreatedAt, LastUpdated: p.LastUpdated,
	}
	err = h.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return classify(err)
	}
	return nil
}

// GetAll returns every hosted record, empty on failure.
func (h *Hosted) GetAll(ctx context.Context) []domain.Product {
	var rows []hostedRow
	if err := h.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil
	}
	return decodeRows(rows)
}

// GetByID fetches one record; absent or failed reads are (zero, false).
func (h *Hosted) GetByID(ctx context.Context, id string) (domain.Product, bool) {
	var row hostedRow
	if err := h.db.WithContext(ctx).Where("product_id = ?", id).First(&row).Error; err != nil {
		return domain.Product{}, false
	}
	var p domain.Product
	if err := json.Unmarshal([]byte(row.Doc), &p); err != nil {
		return domain.Product{}, false
	}
	return p, true
}

// Delete removes the record, queueing on unreachability.
func (h *Hosted) Delete(ctx context.Context, id string) error {
	err := h.db.WithContext(ctx).Where("product_id = ?", id).Delete(&hostedRow{}).Error
	if err != nil {
		h.queue.enqueue(pendingOp{kind: opDelete, id: id})
		cerr := classify(err)
		if errors.Is(cerr, ErrUnreachable) {
			return nil
		}
		return cerr
	}
	return nil
}

// UpdateViews is a read-modify-write against the stored document; lossy
// under concurrent increments like every other tier.
func (h *Hosted) UpdateViews(ctx context.Context, id string) (int64, bool) {
	p, ok := h.GetByID(ctx, id)
	if !ok {
		return 0, false
	}
	p.PageViews++
	p.LastUpdated = time.Now().UTC()
	if err := h.put(ctx, p); err != nil {
		return 0, false
	}
	return p.PageViews, true
}

// Search matches the query case-insensitively against the promoted name and
// category columns plus the document body, empty on failure.
func (h *Hosted) Search(ctx context.Context, query string) []domain.Product {
	q := "%" + strings.ToLower(query) + "%"
	var rows []hostedRow
	err := h.db.WithContext(ctx).
		Where("LOWER(name) LIKE ? OR LOWER(category) LIKE ? OR LOWER(doc) LIKE ?", q, q, q).
		Find(&rows).Error
	if err != nil {
		return nil
	}
	return decodeRows(rows)
}

// GetByCategory returns exact category matches, empty on failure.
func (h *Hosted) GetByCategory(ctx context.Context, category string) []domain.Product {
	var rows []hostedRow
	if err := h.db.WithContext(ctx).Where("category = ?", category).Find(&rows).Error; err != nil {
		return nil
	}
	return decodeRows(rows)
}

// Sync merges the pushed set with the hosted set by LastUpdated and
// persists the union. Returns the resulting record count.
func (h *Hosted) Sync(ctx context.Context, products []domain.Product) (int, error) {
	merged := domain.MergeSets(h.GetAll(ctx), products)
	for _, p := range merged {
		if err := h.put(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(merged), nil
}

// Flush replays queued writes in order.
func (h *Hosted) Flush(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue.replay(ctx, func(ctx context.Context, op pendingOp) error {
		switch op.kind {
		case opSave:
			return h.put(ctx, op.product)
		case opDelete:
			return classify(h.db.WithContext(ctx).Where("product_id = ?", op.id).Delete(&hostedRow{}).Error)
		}
		return nil
	})
}

// Pending reports the offline queue depth.
func (h *Hosted) Pending() int { return h.queue.depth() }

// PublishEvent appends a relayed sync event to the event table.
func (h *Hosted) PublishEvent(ctx context.Context, e domain.SyncEvent) error {
	row := hostedEvent{
		OriginID:  e.OriginID,
		Stamp:     e.Timestamp.UnixNano(),
		Type:      e.Type,
		ProductID: e.ProductID,
		Payload:   e.Payload,
		CreatedAt: e.Timestamp,
	}
	return classify(h.db.WithContext(ctx).Create(&row).Error)
}

// EventsSince returns events created after since that did not originate
// from origin, oldest first. Empty on failure.
func (h *Hosted) EventsSince(ctx context.Context, origin string, since time.Time) []domain.SyncEvent {
	var rows []hostedEvent
	err := h.db.WithContext(ctx).
		Where("created_at > ? AND origin_id <> ?", since, origin).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil
	}
	out := make([]domain.SyncEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.SyncEvent{
			Type:      r.Type,
			ProductID: r.ProductID,
			Timestamp: r.CreatedAt,
			OriginID:  r.OriginID,
			Payload:   r.Payload,
		})
	}
	return out
}

func decodeRows(rows []hostedRow) []domain.Product {
	out := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		var p domain.Product
		if err := json.Unmarshal([]byte(r.Doc), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	domain.SortByCreatedDesc(out)
	return out
}

// classify folds driver errors into the package taxonomy. Connection-level
// failures look unreachable; anything else is a server error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "bad connection") {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrServer, err)
}
