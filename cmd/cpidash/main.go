package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"github.com/dvhoang/cpidash/internal/catalog"
	"github.com/dvhoang/cpidash/internal/config"
	"github.com/dvhoang/cpidash/internal/export"
	"github.com/dvhoang/cpidash/internal/logger"
	"github.com/dvhoang/cpidash/internal/metrics"
	"github.com/dvhoang/cpidash/internal/sap"
	"github.com/dvhoang/cpidash/internal/server"
	"github.com/dvhoang/cpidash/internal/storage"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()

	logger.Init(logger.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Color:  cfg.LogColor,
	})

	log.Info().
		Str("version", version).
		Str("api_base_url", cfg.APIBaseURL).
		Dur("catalog_ttl", cfg.CatalogTTL).
		Bool("prefetch", cfg.Prefetch).
		Int("flow_concurrency", cfg.FlowConcurrency).
		Str("log_level", cfg.LogLevel).
		Msg("🚀 Starting cpidash server")

	switch storage.StorageType(cfg.StorageType) {
	case storage.StorageTypeS3:
		log.Info().
			Str("endpoint", cfg.S3Endpoint).
			Str("bucket", cfg.S3Bucket).
			Str("key_prefix", cfg.S3Prefix).
			Bool("path_style", cfg.S3ForcePathStyle).
			Msg("☁️  Exports go to S3")
	default:
		log.Info().
			Str("export_dir", cfg.ExportDir).
			Msg("💾 Exports go to local disk")
	}

	st, err := newStorage(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	exports := export.NewStore(st)

	client := sap.NewClient(cfg)
	if !client.Configured() {
		log.Warn().Msg("⚠️  Tenant credentials not configured, API calls will fail")
	}

	var prom *metrics.Catalog
	cacheOpts := []catalog.CacheOption{}
	if cfg.Metrics {
		prom = metrics.NewCatalog()
		cacheOpts = append(cacheOpts, catalog.WithMetrics(prom))
	}

	cache := catalog.NewCache(client, cfg.CatalogTTL, cacheOpts...)
	engine := catalog.NewEngine(cache, cfg.Prefetch)

	srv := server.New(cfg, cache, engine, client, exports, prom)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", httpServer.Addr).Msg("🌐 HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Warn().Msg("⚠️  Shutdown signal received")

	// in flight requests get five seconds to finish
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close storage")
	}

	log.Info().Msg("✅ Server stopped gracefully")
}

func newStorage(cfg *config.Config) (storage.Storage, error) {
	switch storage.StorageType(cfg.StorageType) {
	case storage.StorageTypeS3:
		return storage.NewS3Storage(&storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			UseSSL:          cfg.S3UseSSL,
			ForcePathStyle:  cfg.S3ForcePathStyle,
			RequestTimeout:  cfg.RequestTimeout,
		})
	default:
		return storage.NewLocalStorage(cfg.ExportDir)
	}
}
