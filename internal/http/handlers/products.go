// Product HTTP handlers.
//
// These endpoints form the file-store backend contract consumed by the
// remote store adapter:
//   - GET    /health
//   - GET    /products
//   - GET    /products/:id
//   - POST   /products
//   - DELETE /products/:id
//   - POST   /products/:id/views
//   - GET    /products/search/:query
//   - GET    /products/category/:category
//   - POST   /products/sync
//
// Handlers are transport-thin: they validate input, call the store, and
// translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
	"github.com/storefront-labs/go-catalog-sync/internal/services"
)

// ProductStore is the persistence contract the product endpoints consume.
// Implementations must be safe for concurrent use and honor the context.
type ProductStore interface {
	Save(ctx context.Context, p domain.Product) (domain.Product, error)
	GetAll(ctx context.Context) ([]domain.Product, error)
	GetByID(ctx context.Context, id string) (domain.Product, bool)
	Delete(ctx context.Context, id string) error
	UpdateViews(ctx context.Context, id string) (int64, error)
}

// ImageStore is the blob persistence contract the upload endpoint consumes.
type ImageStore interface {
	Persist(input string) string
	Resolve(ref string) string
}

// Handlers groups the HTTP endpoints for products, image upload, and the
// cross-browser sync relay.
type Handlers struct {
	store  ProductStore
	images ImageStore
	relay  SyncRelay
	start  time.Time
}

// New constructs Handlers bound to the given collaborators.
func New(store ProductStore, images ImageStore, relay SyncRelay) *Handlers {
	return &Handlers{store: store, images: images, relay: relay, start: time.Now()}
}

// Health reports liveness plus process uptime.
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.start).Seconds(),
	})
}

// ListProducts returns every stored record.
func (h *Handlers) ListProducts(c *gin.Context) {
	products, err := h.store.GetAll(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	ok(c, http.StatusOK, products)
}

// GetProduct returns one record or 404.
func (h *Handlers) GetProduct(c *gin.Context) {
	p, found := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
		return
	}
	ok(c, http.StatusOK, p)
}

// SaveProduct upserts a record. The id is optional; the server assigns one
// (and derives slug/route) when absent.
func (h *Handlers) SaveProduct(c *gin.Context) {
	var p domain.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "product name is required")
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Slug == "" {
		p.Slug = domain.Slugify(p.Name)
	}
	if p.Route == "" {
		p.Route = domain.RouteFor(p.Slug)
	}
	saved, err := h.store.Save(c.Request.Context(), p)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSaveFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"success": true, "product": saved})
}

// DeleteProduct removes a record. Deleting an absent record still succeeds;
// the outcome the caller cares about is "it is gone".
func (h *Handlers) DeleteProduct(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"success": true})
}

// UpdateViews bumps the page-view counter.
func (h *Handlers) UpdateViews(c *gin.Context) {
	views, err := h.store.UpdateViews(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"success": true, "pageViews": views})
}

// SearchProducts returns case-insensitive substring matches over name,
// description, features, and category.
func (h *Handlers) SearchProducts(c *gin.Context) {
	all, err := h.store.GetAll(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	hits := services.FilterProducts(all, c.Param("query"))
	if hits == nil {
		hits = []domain.Product{}
	}
	ok(c, http.StatusOK, hits)
}

// GetByCategory returns exact category matches.
func (h *Handlers) GetByCategory(c *gin.Context) {
	all, err := h.store.GetAll(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	category := c.Param("category")
	out := []domain.Product{}
	for _, p := range all {
		if p.Category == category {
			out = append(out, p)
		}
	}
	ok(c, http.StatusOK, out)
}

// SyncRequest is the payload for the bulk merge endpoint.
type SyncRequest struct {
	Products []domain.Product `json:"products"`
}

// SyncProducts merges the pushed set with the stored set by LastUpdated
// (later wins) and persists the union.
func (h *Handlers) SyncProducts(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ctx := c.Request.Context()
	stored, err := h.store.GetAll(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}
	merged := domain.MergeSets(stored, req.Products)
	for _, p := range merged {
		if _, err := h.store.Save(ctx, p); err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
			return
		}
	}
	ok(c, http.StatusOK, gin.H{
		"success": true,
		"count":   len(merged),
		"message": "catalog merged",
	})
}

