package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/collector"
	"github.com/construtiva/costref-engine/pkg/config"
	"github.com/construtiva/costref-engine/pkg/database"
	"github.com/construtiva/costref-engine/pkg/handlers"
	"github.com/construtiva/costref-engine/pkg/logging"
	"github.com/construtiva/costref-engine/pkg/repositories"
	"github.com/construtiva/costref-engine/pkg/retry"
	"github.com/construtiva/costref-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Int("batch_size", cfg.Collector.BatchSize),
	)

	ctx := context.Background()

	// The database may still be starting when we are; retry transient
	// connection failures before giving up.
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Migrations run over database/sql; reuse the pool's config rather
	// than opening a second configuration path.
	migrationDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	resourceRepo := repositories.NewResourceRepository(db)
	priceRepo := repositories.NewPriceRepository(db)
	compositionRepo := repositories.NewCompositionRepository(db)
	importLogRepo := repositories.NewImportLogRepository(db)

	ingestService := services.NewIngestService(resourceRepo, priceRepo, compositionRepo, cfg.Collector.BatchSize, logger)
	flatFileService := services.NewFlatFileService(ingestService, importLogRepo, logger)
	importLogService := services.NewImportLogService(importLogRepo, logger)
	costService := services.NewCostService(compositionRepo, priceRepo, logger)

	archiveCollector := collector.New(collector.Options{
		URLTemplate:     cfg.Collector.URLTemplate,
		DownloadTimeout: cfg.Collector.DownloadTimeout,
		MinArchiveBytes: cfg.Collector.MinArchiveBytes,
		MaxRedirects:    cfg.Collector.MaxRedirects,
	}, logger)
	collectService := services.NewCollectService(archiveCollector, ingestService, importLogRepo, logger)

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewImportHandler(flatFileService, importLogService, logger).RegisterRoutes(mux)
	handlers.NewCostHandler(costService, logger).RegisterRoutes(mux)
	handlers.NewCollectHandler(collectService, logger).RegisterRoutes(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
		// Collect runs download and ingest inside one request while
		// streaming progress, so these are sized for long runs, not
		// typical API calls.
		ReadTimeout:  cfg.Collector.DownloadTimeout + 5*time.Minute,
		WriteTimeout: 2 * cfg.Collector.DownloadTimeout,
	}

	logger.Info("Starting costref-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
