// Package database provides unified database management for the poolstats engine.
// It coordinates operations across PostgreSQL, Redis, and InfluxDB databases.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/poolstats/internal/database/influx"
	"github.com/bardlex/poolstats/internal/database/postgres"
	"github.com/bardlex/poolstats/internal/database/redis"
	"github.com/bardlex/poolstats/pkg/circuit"
	"github.com/bardlex/poolstats/pkg/errors"
	"github.com/bardlex/poolstats/pkg/retry"
)

// Manager coordinates all database operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Shares      *postgres.ShareRepository
	Rounds      *postgres.RoundRepository
	Checkpoints *postgres.CheckpointRepository
	Settings    *postgres.SettingsRepository
	Balances    *postgres.BalanceRepository

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// NewManager creates a new database manager with all connections
func NewManager(cfg *Config) (*Manager, error) {
	// Initialize PostgreSQL
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}

	// Initialize Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		if closeErr := pgClient.Close(); closeErr != nil {
			// Wrap both errors
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			closeErr = errors.Wrap(closeErr, errors.ErrorTypeDatabase, "postgres_cleanup",
				"failed to close PostgreSQL connection during error cleanup")
			return nil, errors.New(errors.ErrorTypeDatabase, "connection_failure",
				"multiple database connection failures").
				WithContext("redis_error", origErr.Error()).
				WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
	}

	// Initialize InfluxDB
	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB database")

		if len(closeErrs) > 0 {
			return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, origErr
	}

	// Configure error handling
	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	db := pgClient.DB()
	return &Manager{
		Postgres:       pgClient,
		Redis:          redisClient,
		Influx:         influxClient,
		Shares:         postgres.NewShareRepository(db),
		Rounds:         postgres.NewRoundRepository(db),
		Checkpoints:    postgres.NewCheckpointRepository(db),
		Settings:       postgres.NewSettingsRepository(db),
		Balances:       postgres.NewBalanceRepository(db),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}

	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}

	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}

	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	return nil
}

// High-level operations that coordinate across multiple databases

// AppendShare appends a share to the durable ledger and records its metric.
// The PostgreSQL append is the critical path; the InfluxDB write is best
// effort and never fails the operation.
func (m *Manager) AppendShare(ctx context.Context, share *postgres.ShareRecord) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Shares.Append(ctx, share); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "append_share",
					"failed to append share to ledger").
					WithContext("user_id", share.UserID).
					WithContext("worker", share.WorkerName).
					WithContext("share_difficulty", share.Difficulty)
			}

			// Record metrics in InfluxDB (best effort, don't retry on failure)
			m.Influx.WriteShareMetric(
				share.UserID,
				share.WorkerName,
				share.Difficulty,
				share.Accepted,
				share.RoundID,
			)

			return nil
		})
	})
}

// CloseRound finalizes a round row and records its metric
func (m *Manager) CloseRound(ctx context.Context, round *postgres.RoundRecord, windowShares float64) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Rounds.Close(ctx, round); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "close_round",
					"failed to finalize round").
					WithContext("round_id", round.ID).
					WithContext("status", round.Status)
			}

			m.Influx.WriteRoundMetric(round.ID, round.Status, windowShares,
				round.NetworkDifficulty, round.RewardSats)

			return nil
		})
	})
}

// SaveCheckpoint persists serialized engine state
func (m *Manager) SaveCheckpoint(ctx context.Context, kind string, roundID int64, state []byte) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			cp := &postgres.CheckpointRecord{Kind: kind, RoundID: roundID, State: state}
			if err := m.Checkpoints.Save(ctx, cp); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "save_checkpoint",
					"failed to save checkpoint").
					WithContext("kind", kind).
					WithContext("round_id", roundID)
			}
			return nil
		})
	})
}

// DonatePercent resolves a user's donation percentage: Redis cache first,
// then PostgreSQL, then the pool default.
func (m *Manager) DonatePercent(ctx context.Context, userID string, poolDefault float64) (float64, error) {
	if pct, ok, err := m.Redis.GetDonatePercent(ctx, userID); err == nil && ok {
		return pct, nil
	}

	pct, ok, err := m.Settings.DonatePercent(ctx, userID)
	if err != nil {
		return poolDefault, err
	}
	if !ok {
		return poolDefault, nil
	}

	// Refill the cache, best effort
	_ = m.Redis.SetDonatePercent(ctx, userID, pct, time.Hour)
	return pct, nil
}

// UserBalances returns a user's confirmed and lifetime balances. Users with no
// balance row yet get a zero row, not an error.
func (m *Manager) UserBalances(ctx context.Context, userID string) (*postgres.BalanceRow, error) {
	return m.Balances.Balances(ctx, userID)
}

// SetDonatePercent updates a user's donation percentage in PostgreSQL and
// invalidates the cached value.
func (m *Manager) SetDonatePercent(ctx context.Context, userID string, pct float64) error {
	if err := m.Settings.SetDonatePercent(ctx, userID, pct); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "set_donate_percent",
			"failed to update donate percent").
			WithContext("user_id", userID)
	}
	_ = m.Redis.SetDonatePercent(ctx, userID, pct, time.Hour)
	return nil
}

// StartPeriodicTasks starts background tasks for database maintenance.
// cleanupEvery controls ledger trimming; retention must cover the largest
// PPLNS window plus the 24h rolling metrics.
func (m *Manager) StartPeriodicTasks(ctx context.Context, cleanupEvery, retention time.Duration, onCleanup func(trimmed int64, err error)) {
	// Trim the share ledger periodically
	go func() {
		ticker := time.NewTicker(cleanupEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.Shares.DeleteOlderThan(ctx, time.Now().Add(-retention))
				if onCleanup != nil {
					onCleanup(n, err)
				}
			}
		}
	}()

	// Flush InfluxDB writes every 10 seconds
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()
}
