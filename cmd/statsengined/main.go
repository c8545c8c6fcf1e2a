// Package main implements statsengined, the pool's share accounting engine.
// It consumes the share, status-report and round-event streams, maintains the
// PPLNS window and rolling hashrate state, and serves snapshots to the
// presentation layer through Redis and the snapshot topic.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/poolstats/internal/chain"
	"github.com/bardlex/poolstats/internal/config"
	"github.com/bardlex/poolstats/internal/database"
	"github.com/bardlex/poolstats/internal/database/influx"
	"github.com/bardlex/poolstats/internal/database/postgres"
	"github.com/bardlex/poolstats/internal/database/redis"
	"github.com/bardlex/poolstats/internal/engine"
	"github.com/bardlex/poolstats/internal/messaging"
	"github.com/bardlex/poolstats/internal/payout"
	"github.com/bardlex/poolstats/internal/query"
	"github.com/bardlex/poolstats/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting statsengined",
		"version", cfg.Version,
		"pplns_window_factor", cfg.PPLNSWindowFactor,
		"rate_interval", cfg.RateInterval,
	)

	redisCfg, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Error("invalid Redis configuration")
		os.Exit(1)
	}

	// Connect the databases
	db, err := database.NewManager(&database.Config{
		Postgres: &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			MaxLifetime:  5 * time.Minute,
		},
		Redis: redisCfg,
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
	})
	if err != nil {
		logger.WithError(err).Error("database initialization failed")
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("database close failed")
		}
	}()

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.Health(healthCtx); err != nil {
		healthCancel()
		logger.WithError(err).Error("database health check failed")
		os.Exit(1)
	}
	healthCancel()

	// Create Kafka client
	kafkaClient := messaging.NewKafkaClient(
		cfg.KafkaBrokers,
		logger.Logger,
	)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Error("kafka close failed")
		}
	}()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Assemble the engine and restore from the last checkpoint
	svc := engine.NewService(cfg, db, kafkaClient, logger)
	if err := svc.Restore(ctx); err != nil {
		logger.WithError(err).Error("state restore failed")
		os.Exit(1)
	}

	// Read side: facade plus the periodic snapshot push
	facade := query.New(&query.Config{
		RateInterval:         cfg.RateInterval,
		DayWindow:            cfg.BucketRetention,
		DefaultDonatePercent: cfg.DefaultDonatePercent,
	}, svc.Accountant, svc.Rates, svc.Monitor, svc.DiffTracker, &payout.Config{
		NMultiplier:  cfg.PPLNSWindowFactor,
		DailyPeriods: cfg.DailyPeriods,
	}, db, db.Influx, logger)

	publisher := query.NewSnapshotPublisher(facade, db, kafkaClient, cfg.SnapshotEvery, logger)
	go publisher.Run(ctx)

	// Chain watcher feeds network difficulty into the window target
	watcher, err := chain.NewWatcher(cfg.ChainZMQAddr, logger.Logger)
	if err != nil {
		logger.WithError(err).Error("chain watcher initialization failed")
		os.Exit(1)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.WithError(err).Error("chain watcher close failed")
		}
	}()
	if err := watcher.Connect(); err != nil {
		logger.WithError(err).Error("chain watcher connect failed")
		os.Exit(1)
	}
	go func() {
		if err := watcher.Listen(ctx, svc.HandleBlock); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("block listener stopped")
			cancel()
		}
	}()

	// Ledger rows older than the retention horizon (with a margin of extra
	// windows) can no longer affect the PPLNS window or the 24h metrics.
	retention := time.Duration(float64(cfg.BucketRetention) * cfg.CleanupMarginN)
	db.StartPeriodicTasks(ctx, cfg.CleanupEvery, retention, func(trimmed int64, err error) {
		if err != nil {
			logger.WithError(err).Error("ledger trim failed")
			return
		}
		if trimmed > 0 {
			logger.Info("trimmed share ledger", "rows", trimmed)
		}
	})

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start the engine
	go func() {
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("engine stopped")
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	// Graceful shutdown writes a final checkpoint
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("statsengined stopped")
}
