package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/naturemedica/fulfillment-api/internal/api"
	"github.com/naturemedica/fulfillment-api/internal/carrier"
	"github.com/naturemedica/fulfillment-api/internal/config"
	"github.com/naturemedica/fulfillment-api/internal/jobs"
	"github.com/naturemedica/fulfillment-api/internal/notify"
	"github.com/naturemedica/fulfillment-api/internal/repository/postgres"
	"github.com/naturemedica/fulfillment-api/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Connect to database
	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	repos := postgres.NewRepositories(db, logger)

	// Carrier adapters share one token cache
	tokens := carrier.NewTokenCache(cfg.Carriers.TokenTTL, logger)
	adapters := []carrier.Adapter{
		carrier.NewShiprocket(cfg.Carriers.Shiprocket, tokens, logger),
		carrier.NewDelhivery(cfg.Carriers.Delhivery, cfg.Shipping, tokens, logger),
		carrier.NewNimbusPost(cfg.Carriers.NimbusPost, tokens, logger),
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.RelayURL != "" {
		notifier = notify.NewRelayNotifier(cfg.Notify.RelayURL, logger)
	}

	// Services
	orders := service.NewOrderService(repos, notifier, logger)
	shipments := service.NewShipmentService(repos, orders, adapters, cfg.Shipping, logger)
	webhooks := service.NewWebhookService(repos, orders, adapters, logger)

	// Background retry of unshipped orders
	sweep := jobs.NewShipmentSweepJob(repos, shipments, cfg.Shipping.SweepInterval, logger)
	if err := sweep.Start(); err != nil {
		logger.Fatal("Failed to start shipment sweep", zap.Error(err))
	}
	defer sweep.Stop()

	router := api.NewRouter(cfg, repos, orders, shipments, webhooks, logger)

	logger.Info("Starting server",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
	)

	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if cfg.Environment == "production" {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(level)
		return zcfg.Build()
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
