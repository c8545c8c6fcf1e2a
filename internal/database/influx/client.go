// Package influx provides InfluxDB time-series storage for the poolstats
// engine. Share, hashrate and round metrics are written fire-and-forget so a
// slow metrics backend never stalls the ingest path.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	return &Client{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close closes the InfluxDB connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Share metrics

// WriteShareMetric writes a share submission metric
func (c *Client) WriteShareMetric(userID, workerName string, difficulty float64, accepted bool, roundID int64) {
	tags := map[string]string{
		"user_id":  userID,
		"worker":   workerName,
		"accepted": fmt.Sprintf("%t", accepted),
	}

	fields := map[string]interface{}{
		"difficulty": difficulty,
		"round_id":   roundID,
		"count":      1,
	}

	point := write.NewPoint("shares", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteHashrateMetric writes a computed hashrate measurement in MH/s
func (c *Client) WriteHashrateMetric(userID, workerName string, hashrateMHS, wu, efficiency float64) {
	tags := map[string]string{
		"user_id": userID,
		"worker":  workerName,
	}

	fields := map[string]interface{}{
		"hashrate_mhs": hashrateMHS,
		"wu":           wu,
		"efficiency":   efficiency,
	}

	point := write.NewPoint("hashrate", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteRoundMetric writes a round transition metric
func (c *Client) WriteRoundMetric(roundID int64, status string, windowShares, networkDiff float64, rewardSats int64) {
	tags := map[string]string{
		"status": status,
	}

	fields := map[string]interface{}{
		"round_id":           roundID,
		"window_shares":      windowShares,
		"network_difficulty": networkDiff,
		"reward_sats":        rewardSats,
		"count":              1,
	}

	point := write.NewPoint("rounds", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteDeviceMetric writes a rig-reported device status metric
func (c *Client) WriteDeviceMetric(userID, workerName string, deviceIndex int, temperature, fanSpeed, reportedMHS float64) {
	tags := map[string]string{
		"user_id": userID,
		"worker":  workerName,
		"device":  fmt.Sprintf("%d", deviceIndex),
	}

	fields := map[string]interface{}{
		"temperature":  temperature,
		"fan_speed":    fanSpeed,
		"reported_mhs": reportedMHS,
	}

	point := write.NewPoint("devices", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// Pool statistics

// WritePoolStatsMetric writes overall pool statistics
func (c *Client) WritePoolStatsMetric(totalHashrateMHS float64, onlineWorkers, trackedUsers int64, windowShares, networkDiff float64) {
	fields := map[string]interface{}{
		"total_hashrate_mhs": totalHashrateMHS,
		"online_workers":     onlineWorkers,
		"tracked_users":      trackedUsers,
		"window_shares":      windowShares,
		"network_difficulty": networkDiff,
	}

	point := write.NewPoint("pool_stats", map[string]string{}, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// Query methods

// GetHashrateHistory retrieves computed hashrate history for a worker
func (c *Client) GetHashrateHistory(ctx context.Context, userID, workerName string, duration time.Duration) ([]HashratePoint, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "hashrate")
		|> filter(fn: (r) => r.user_id == "%s")
		|> filter(fn: (r) => r.worker == "%s")
		|> filter(fn: (r) => r._field == "hashrate_mhs")
		|> aggregateWindow(every: 5m, fn: mean, createEmpty: false)
	`, c.bucket, duration.String(), userID, workerName)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query hashrate history: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var points []HashratePoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, HashratePoint{
				Time:     record.Time(),
				Hashrate: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// GetShareStats retrieves share statistics for a time period
func (c *Client) GetShareStats(ctx context.Context, userID string, duration time.Duration) (*ShareStats, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "shares")
		|> filter(fn: (r) => r.user_id == "%s")
		|> filter(fn: (r) => r._field == "count")
		|> group(columns: ["accepted"])
		|> sum()
	`, c.bucket, duration.String(), userID)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query share stats: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	stats := &ShareStats{}
	for result.Next() {
		record := result.Record()
		if count, ok := record.Value().(int64); ok {
			if record.ValueByKey("accepted") == "true" {
				stats.AcceptedShares = count
			} else {
				stats.RejectedShares = count
			}
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	stats.TotalShares = stats.AcceptedShares + stats.RejectedShares
	if stats.TotalShares > 0 {
		stats.AcceptedPercent = float64(stats.AcceptedShares) / float64(stats.TotalShares) * 100
	}

	return stats, nil
}

// GetPoolHashrate retrieves current pool hashrate in MH/s
func (c *Client) GetPoolHashrate(ctx context.Context, duration time.Duration) (float64, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "hashrate")
		|> filter(fn: (r) => r._field == "hashrate_mhs")
		|> aggregateWindow(every: 5m, fn: mean, createEmpty: false)
		|> group()
		|> sum()
		|> last()
	`, c.bucket, duration.String())

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query pool hashrate: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	if result.Next() {
		record := result.Record()
		if hashrate, ok := record.Value().(float64); ok {
			return hashrate, nil
		}
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return 0, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Data structures

// HashratePoint represents a hashrate measurement at a point in time
type HashratePoint struct {
	Time     time.Time `json:"time"`
	Hashrate float64   `json:"hashrate"`
}

// ShareStats represents aggregated share statistics
type ShareStats struct {
	TotalShares     int64   `json:"total_shares"`
	AcceptedShares  int64   `json:"accepted_shares"`
	RejectedShares  int64   `json:"rejected_shares"`
	AcceptedPercent float64 `json:"accepted_percent"`
}
