package query

import (
	"context"
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/bardlex/poolstats/internal/database"
	"github.com/bardlex/poolstats/internal/messaging"
	"github.com/bardlex/poolstats/pkg/log"
)

// SnapshotPublisher periodically pushes per-user stats snapshots onto the
// snapshot topic and into the Redis cache. Downstream frontends poll the cache
// instead of querying the engine directly.
type SnapshotPublisher struct {
	logger   *log.Logger
	facade   *Facade
	db       *database.Manager
	kafka    *messaging.KafkaClient
	interval time.Duration
	ttl      time.Duration
}

// NewSnapshotPublisher creates a publisher over the facade
func NewSnapshotPublisher(facade *Facade, db *database.Manager, kafka *messaging.KafkaClient, interval time.Duration, logger *log.Logger) *SnapshotPublisher {
	return &SnapshotPublisher{
		logger:   logger.WithComponent("snapshots"),
		facade:   facade,
		db:       db,
		kafka:    kafka,
		interval: interval,
		ttl:      3 * interval,
	}
}

// Run publishes snapshots on the configured interval until the context is
// canceled.
func (p *SnapshotPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishAll(ctx)
		}
	}
}

func (p *SnapshotPublisher) publishAll(ctx context.Context) {
	// The round reward is only known once a block is found; until then the
	// payout projections stay at zero.
	var reward int64
	if solved := p.facade.accountant.LastSolved(); solved != nil {
		reward = int64(solved.Reward)
	}

	users := p.facade.accountant.WindowUsers()
	var totalMHS float64
	var onlineWorkers int64

	for _, userID := range users {
		if err := p.publishUser(ctx, userID, reward); err != nil {
			p.logger.WithError(err).Warn("snapshot publish failed", "user_id", userID)
		}

		for _, w := range p.facade.Workers(userID) {
			p.db.Influx.WriteHashrateMetric(userID, w.Name, w.HashrateMHS, w.WU, w.Efficiency)
			totalMHS += w.HashrateMHS
			if w.Online {
				onlineWorkers++
			}
		}
	}

	p.db.Influx.WritePoolStatsMetric(totalMHS, onlineWorkers, int64(len(users)),
		p.facade.accountant.TotalShares(), p.facade.tracker.Current())
}

func (p *SnapshotPublisher) publishUser(ctx context.Context, userID string, rewardSats int64) error {
	stats := p.facade.rates.UserStats(userID, p.facade.cfg.RateInterval)
	earnings := p.facade.Earnings(ctx, userID, btcutil.Amount(rewardSats))

	msg := &messaging.SnapshotMessage{
		UserID:        userID,
		RoundShares:   p.facade.accountant.UserShares(userID),
		WindowShares:  p.facade.accountant.TotalShares(),
		HashrateMHS:   p.facade.rates.Hashrate(stats),
		EstimatedSats: earnings.EstimatedSats,
		DailyRateSats: earnings.DailyRateSats,
		GeneratedAt:   time.Now(),
	}

	if err := p.db.Redis.SetUserSnapshot(ctx, userID, msg, p.ttl); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.kafka.PublishJSON(ctx, messaging.TopicSnapshots, userID, data)
}
