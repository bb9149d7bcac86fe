package main

import (
	"context"
	"fmt"
	"os"

	"order_packer/internal/config"
	"order_packer/internal/database"
	"order_packer/internal/document"
	"order_packer/internal/handlers"
	"order_packer/internal/migrations"
	"order_packer/internal/redis"
	"order_packer/internal/repository"
	"order_packer/internal/services"
	"order_packer/internal/sku"
	"order_packer/pkg/logger"
	"order_packer/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg := config.Load()
	log := logger.New(logger.Options{
		ServiceName: "order-packer",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server stopped", err)
		os.Exit(1)
	}
}

// run wires the service and serves until the listener fails. Resources are
// released on every return path.
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if err := cfg.Layout.Validate(); err != nil {
		return fmt.Errorf("invalid layout configuration: %w", err)
	}

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := migrations.RunMigrations(db, log); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// SKU master data
	registry := sku.NewRegistry(sku.FileLoader{
		ClassificationPath: cfg.SKUMasterPath,
		ExemptionPath:      cfg.NoScanPath,
		PrintCountPath:     cfg.PrintRulesPath,
	})
	if err := registry.Load(); err != nil {
		return fmt.Errorf("failed to load sku master data: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	fulfillmentMetrics := metrics.NewFulfillmentMetrics(reg)

	renderer := document.NewPDFRenderer()
	deps := services.FulfillmentDeps{
		Orders:      repository.NewOrderRepository(db),
		Items:       repository.NewOrderItemRepository(db),
		Registry:    registry,
		Composer:    document.NewComposer(renderer, cfg.Layout, log, fulfillmentMetrics),
		Pages:       renderer,
		Logger:      log,
		Metrics:     fulfillmentMetrics,
		StoreDir:    cfg.StoreDir,
		LockTTL:     cfg.ScanLockTTL,
		RecentLimit: cfg.RecentScanLimit,
	}

	// Redis is optional; without it scans are serialized in-process only
	if cfg.RedisURL != "" {
		redisClient, err := redis.Initialize(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		deps.Locker = redisClient
		deps.Feed = redisClient
	}

	fulfillmentService := services.NewFulfillmentService(deps)
	apiHandler := handlers.NewAPIHandler(fulfillmentService, log)

	// Setup routes
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(log))

	router.GET("/healthz", apiHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	apiHandler.Routes(router.Group("/api"))

	// Start server
	log.Info(log.WithField(ctx, "port", cfg.ServerPort), "server starting")
	return router.Run(":" + cfg.ServerPort)
}
