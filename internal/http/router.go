// Package httpapi wires the HTTP transport (Gin) to the product store,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// compression, and rate limiting.
//
// The surface it exposes is the file-store backend contract: remote store
// adapters in other processes speak to these endpoints, and the sync relay
// endpoints carry cross-device change notifications.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/storefront-labs/go-catalog-sync/internal/blobstore"
	"github.com/storefront-labs/go-catalog-sync/internal/config"
	"github.com/storefront-labs/go-catalog-sync/internal/http/handlers"
	"github.com/storefront-labs/go-catalog-sync/internal/http/middleware"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything (when enabled)
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured request logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per IP)
//  8. CORS, then gzip compression
func RegisterRoutes(r *gin.Engine, h *handlers.Handlers, blobs *blobstore.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	if cfg.OTEL.Enabled {
		r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	}

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())

	// Global body size limit (12 MiB: data-URI image uploads dominate).
	r.Use(limitBody(12 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
	r.Use(rl.Handler())

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness
	r.GET("/health", h.Health)

	// Products
	r.GET("/products", h.ListProducts)
	r.POST("/products", h.SaveProduct)
	r.GET("/products/search/:query", h.SearchProducts)
	r.GET("/products/category/:category", h.GetByCategory)
	r.POST("/products/sync", h.SyncProducts)
	r.GET("/products/:id", h.GetProduct)
	r.DELETE("/products/:id", h.DeleteProduct)
	r.POST("/products/:id/views", h.UpdateViews)

	// Images: upload plus static serving of the persisted blobs.
	r.POST("/upload-image", h.UploadImage)
	if dir := blobs.Dir(); dir != "" {
		r.Static("/images", dir)
	}

	// Cross-device sync relay
	r.POST("/broadcast-sync", h.BroadcastSync)
	r.GET("/sync-events", h.SyncEvents)
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader. Requests exceeding the cap cause downstream body
// reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
