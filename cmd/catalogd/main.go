// catalogd is the catalog synchronization daemon. It persists products
// across a tiered local store (SQLite + mirror files), optionally mirrors
// them to a remote file-store backend and a hosted Postgres backend, and
// serves the file-store HTTP contract itself so other instances can use it
// as their remote tier.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storefront-labs/go-catalog-sync/internal/blobstore"
	"github.com/storefront-labs/go-catalog-sync/internal/bus"
	"github.com/storefront-labs/go-catalog-sync/internal/config"
	httpapi "github.com/storefront-labs/go-catalog-sync/internal/http"
	"github.com/storefront-labs/go-catalog-sync/internal/http/handlers"
	"github.com/storefront-labs/go-catalog-sync/internal/localstore"
	"github.com/storefront-labs/go-catalog-sync/internal/observability"
	"github.com/storefront-labs/go-catalog-sync/internal/registry"
	"github.com/storefront-labs/go-catalog-sync/internal/relay"
	"github.com/storefront-labs/go-catalog-sync/internal/remote"
	"github.com/storefront-labs/go-catalog-sync/internal/services"
	"github.com/storefront-labs/go-catalog-sync/internal/sysutil"
)

var version = "dev" // set via -ldflags at build time

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ver := sysutil.FirstNonEmpty(os.Getenv("VERSION"), version)
	log.Info().Str("version", ver).Msg("catalogd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sdCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Storage.DataDir).Msg("data dir unusable")
	}

	// Local tier. A broken SQLite file degrades the store, never the boot.
	db, err := localstore.OpenSQLite(cfg.Storage.DBPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Storage.DBPath).Msg("sqlite unavailable, running on mirrors and memory")
		db = nil
	} else if err := localstore.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}
	local := localstore.New(db, localstore.Options{
		DataDir:         cfg.Storage.DataDir,
		JarLimit:        cfg.Storage.JarLimit,
		PromoteInterval: cfg.Sync.Interval,
	})
	defer local.Close()

	blobs := blobstore.New(cfg.Storage.BlobDir)
	reg := registry.New(cfg.Storage.DataDir, registry.Caps{})
	relayLog := relay.New(relay.DefaultTTL)

	// Remote tiers, both optional.
	var fileServer remote.Store
	if cfg.Sync.RemoteURL != "" {
		fileServer = remote.NewClient(cfg.Sync.RemoteURL, remote.ClientOptions{
			Timeout:       cfg.Sync.RemoteTimeout,
			ProbeInterval: cfg.Sync.ProbeInterval,
		})
	}
	var hosted *remote.Hosted
	if cfg.Sync.HostedDSN != "" {
		hosted, err = remote.OpenHosted(cfg.Sync.HostedDSN)
		if err != nil {
			log.Warn().Err(err).Msg("hosted backend unavailable at boot")
			hosted = nil
		}
	}

	// Change broadcast bus: spool dir for sibling processes, relay and
	// hosted table for other devices.
	identity := bus.LoadIdentity(cfg.Storage.DataDir)
	var transports []bus.Transport
	if spool, err := bus.NewSpoolTransport(cfg.Storage.SpoolDir, bus.DefaultTTL); err != nil {
		log.Warn().Err(err).Str("dir", cfg.Storage.SpoolDir).Msg("spool transport disabled")
	} else {
		transports = append(transports, spool)
	}
	if cfg.Sync.RemoteURL != "" {
		transports = append(transports, bus.NewRelayTransport(cfg.Sync.RemoteURL, cfg.Sync.RemoteTimeout))
	}
	if hosted != nil {
		transports = append(transports, bus.NewHostedTransport(hosted))
	}
	changeBus := bus.New(bus.Options{
		Identity:     identity,
		PollInterval: cfg.Sync.PollInterval,
		Transports:   transports,
	})
	defer changeBus.Close()

	deps := services.Deps{
		Local:        local,
		Registry:     reg,
		Blobs:        blobs,
		Bus:          changeBus,
		FileServer:   fileServer,
		SyncInterval: cfg.Sync.Interval,
	}
	if hosted != nil {
		deps.Hosted = hosted
	}
	catalog := services.New(ctx, deps)
	catalog.Start()
	defer catalog.Close()

	r := gin.New()
	httpapi.RegisterRoutes(r, handlers.New(local, blobs, relayLog), blobs, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("mode", string(catalog.Mode())).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
	}

	sdCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if fileServer != nil {
		fileServer.Close()
	}
	if hosted != nil {
		hosted.Close()
	}
	log.Info().Msg("catalogd stopped")
}
