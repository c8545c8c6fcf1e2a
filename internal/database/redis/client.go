// Package redis provides Redis caching for the poolstats engine. It holds the
// per-user stats snapshots the presentation layer polls, the rolling network
// difficulty list, and hot lookups like donation percentages.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the stats engine
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ParseURL builds a Config from a redis:// connection URL
func ParseURL(url string) (*Config, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return &Config{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}, nil
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// User snapshots

// SetUserSnapshot caches a user's stats snapshot for the presentation layer
func (c *Client) SetUserSnapshot(ctx context.Context, userID string, snapshot any, expiration time.Duration) error {
	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshot:%s", userID)
	if err := c.rdb.Set(ctx, key, jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}

	return nil
}

// Network difficulty

const difficultyKey = "network_difficulty"

// PushDifficulty records a block's network difficulty, keeping the latest n
func (c *Client) PushDifficulty(ctx context.Context, difficulty float64, keep int64) error {
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, difficultyKey, difficulty)
	pipe.LTrim(ctx, difficultyKey, 0, keep-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push difficulty: %w", err)
	}

	return nil
}

// AverageDifficulty averages the recorded recent network difficulties,
// 0 if none are recorded yet
func (c *Client) AverageDifficulty(ctx context.Context) (float64, error) {
	values, err := c.rdb.LRange(ctx, difficultyKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read difficulty list: %w", err)
	}

	if len(values) == 0 {
		return 0, nil
	}

	var total float64
	var n int
	for _, val := range values {
		if d, err := strconv.ParseFloat(val, 64); err == nil {
			total += d
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}

	return total / float64(n), nil
}

// Donation percentages

// SetDonatePercent caches a user's donation percentage
func (c *Client) SetDonatePercent(ctx context.Context, userID string, pct float64, expiration time.Duration) error {
	key := fmt.Sprintf("donate:%s", userID)
	if err := c.rdb.Set(ctx, key, pct, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set donate percent: %w", err)
	}
	return nil
}

// GetDonatePercent reads a cached donation percentage, ok=false on a miss
func (c *Client) GetDonatePercent(ctx context.Context, userID string) (float64, bool, error) {
	key := fmt.Sprintf("donate:%s", userID)
	val, err := c.rdb.Get(ctx, key).Float64()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get donate percent: %w", err)
	}
	return val, true, nil
}
