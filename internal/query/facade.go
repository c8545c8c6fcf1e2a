// Package query is the read side of the stats engine. It assembles
// point-in-time snapshots from the window accountant, the rate aggregator and
// the liveness monitor for the presentation layer. Reads may lag a concurrent
// ingestion batch by at most one share.
package query

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/bardlex/poolstats/internal/chain"
	"github.com/bardlex/poolstats/internal/database/influx"
	"github.com/bardlex/poolstats/internal/database/postgres"
	"github.com/bardlex/poolstats/internal/liveness"
	"github.com/bardlex/poolstats/internal/payout"
	"github.com/bardlex/poolstats/internal/pplns"
	"github.com/bardlex/poolstats/internal/rate"
	"github.com/bardlex/poolstats/pkg/errors"
	"github.com/bardlex/poolstats/pkg/log"
)

// Store is the persistent user state the facade reads and writes
type Store interface {
	DonatePercent(ctx context.Context, userID string, poolDefault float64) (float64, error)
	SetDonatePercent(ctx context.Context, userID string, pct float64) error
	UserBalances(ctx context.Context, userID string) (*postgres.BalanceRow, error)
}

// Metrics is the time-series backend for historical queries
type Metrics interface {
	GetHashrateHistory(ctx context.Context, userID, workerName string, duration time.Duration) ([]influx.HashratePoint, error)
	GetShareStats(ctx context.Context, userID string, duration time.Duration) (*influx.ShareStats, error)
	GetPoolHashrate(ctx context.Context, duration time.Duration) (float64, error)
}

// Config holds the facade's display tunables
type Config struct {
	// RateInterval is the trailing window for display hashrate
	RateInterval time.Duration
	// DayWindow is the trailing window for accepted/rejected totals
	DayWindow time.Duration
	// DefaultDonatePercent applies to users with no stored setting
	DefaultDonatePercent float64
}

// Facade answers presentation-layer queries from live engine state
type Facade struct {
	logger *log.Logger
	cfg    *Config

	accountant *pplns.Accountant
	rates      *rate.Aggregator
	monitor    *liveness.Monitor
	tracker    *chain.DifficultyTracker
	estimator  *payout.Config
	store      Store
	metrics    Metrics
}

// New creates a facade over the engine components. metrics may be nil; the
// historical queries then report unavailable.
func New(cfg *Config, accountant *pplns.Accountant, rates *rate.Aggregator, monitor *liveness.Monitor, tracker *chain.DifficultyTracker, estimator *payout.Config, store Store, metrics Metrics, logger *log.Logger) *Facade {
	return &Facade{
		logger:     logger.WithComponent("query"),
		cfg:        cfg,
		accountant: accountant,
		rates:      rates,
		monitor:    monitor,
		tracker:    tracker,
		estimator:  estimator,
		store:      store,
		metrics:    metrics,
	}
}

// UserSummary is the per-user account snapshot
type UserSummary struct {
	UserID            string  `json:"user_id"`
	RoundShares       float64 `json:"round_shares"`
	PPLNSTotalShares  float64 `json:"pplns_total_shares"`
	HashrateMHS       float64 `json:"last_10_hashrate"`
	IntervalShares    float64 `json:"last_10_shares"`
	AverageDifficulty float64 `json:"average_difficulty"`
	DonationPct       float64 `json:"donation_pct"`
	BalanceSats       int64   `json:"balance"`
	UnconfirmedSats   int64   `json:"unconfirmed_balance"`
	TotalEarnedSats   int64   `json:"total_earned"`
	TotalPaidSats     int64   `json:"total_paid"`
}

// UserSummary builds the account snapshot for one user. Unknown users get a
// zero summary rather than an error.
func (f *Facade) UserSummary(ctx context.Context, userID string) (*UserSummary, error) {
	stats := f.rates.UserStats(userID, f.cfg.RateInterval)

	donate, err := f.store.DonatePercent(ctx, userID, f.cfg.DefaultDonatePercent)
	if err != nil {
		f.logger.WithError(err).Warn("donate percent lookup failed", "user_id", userID)
		donate = f.cfg.DefaultDonatePercent
	}

	balances, err := f.store.UserBalances(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "user_summary",
			"failed to load user balances").WithContext("user_id", userID)
	}

	return &UserSummary{
		UserID:            userID,
		RoundShares:       f.accountant.UserShares(userID),
		PPLNSTotalShares:  f.accountant.TotalShares(),
		HashrateMHS:       f.rates.Hashrate(stats),
		IntervalShares:    stats.Accepted,
		AverageDifficulty: rate.AverageDifficulty(stats),
		DonationPct:       donate,
		BalanceSats:       balances.ConfirmedSats,
		UnconfirmedSats:   balances.UnconfirmedSats,
		TotalEarnedSats:   balances.TotalEarnedSats,
		TotalPaidSats:     balances.TotalPaidSats,
	}, nil
}

// SharesToSolve returns the probabilistic share count needed to find a block
// at the rolling-average network difficulty. Zero until a difficulty has been
// observed.
func (f *Facade) SharesToSolve() float64 {
	return f.tracker.SharesToSolve()
}

// WorkerSummary is the per-worker snapshot rendered on the workers list
type WorkerSummary struct {
	Name        string                  `json:"name"`
	Online      bool                    `json:"online"`
	HashrateMHS float64                 `json:"last_10_hashrate"`
	Efficiency  float64                 `json:"efficiency"`
	Accepted24h float64                 `json:"accepted_24h"`
	Rejected24h float64                 `json:"rejected_24h"`
	Status      []liveness.DeviceStatus `json:"status"`
	StatusStale bool                    `json:"status_stale"`
	StatusTime  time.Time               `json:"status_time"`
	WU          float64                 `json:"wu"`
	WUE         float64                 `json:"wue"`
	Band        rate.HealthBand         `json:"band"`
}

// Workers lists every tracked worker of a user with its liveness and rate
// snapshot, sorted by worker name.
func (f *Facade) Workers(userID string) []WorkerSummary {
	views := f.monitor.Workers(userID)
	out := make([]WorkerSummary, 0, len(views))

	for _, v := range views {
		interval := f.rates.WorkerStats(userID, v.Worker, f.cfg.RateInterval)
		day := f.rates.WorkerStats(userID, v.Worker, f.cfg.DayWindow)

		wu := rate.WorkUtility(interval)
		wue := rate.WUE(wu, v.ReportedHashrate)

		out = append(out, WorkerSummary{
			Name:        v.Worker,
			Online:      v.Online,
			HashrateMHS: f.rates.Hashrate(interval),
			Efficiency:  rate.Efficiency(day.Accepted, day.Rejected),
			Accepted24h: day.Accepted,
			Rejected24h: day.Rejected,
			Status:      f.monitor.Devices(userID, v.Worker),
			StatusStale: v.StatusStale,
			StatusTime:  v.LastReport,
			WU:          wu,
			WUE:         wue,
			Band:        f.rates.Band(wue, v.ReportedHashrate),
		})
	}
	return out
}

// GpuDetail returns the raw last-reported fields of one device
func (f *Facade) GpuDetail(userID, worker string, deviceIndex int) (liveness.DeviceStatus, error) {
	devices := f.monitor.Devices(userID, worker)
	if devices == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "gpu_detail",
			"worker has no status report").
			WithContext("user_id", userID).
			WithContext("worker", worker)
	}
	if deviceIndex < 0 || deviceIndex >= len(devices) {
		return nil, errors.New(errors.ErrorTypeValidation, "gpu_detail",
			"device index out of range").
			WithContext("worker", worker).
			WithContext("device_index", deviceIndex).
			WithContext("device_count", len(devices))
	}
	return devices[deviceIndex], nil
}

// SetDonationPercent stores a user's donation percentage
func (f *Facade) SetDonationPercent(ctx context.Context, userID string, pct float64) error {
	if pct < 0 || pct > 100 {
		return errors.New(errors.ErrorTypeValidation, "set_donation_percent",
			"donation percent must be between 0 and 100").
			WithContext("user_id", userID).
			WithContext("percent", pct)
	}
	return f.store.SetDonatePercent(ctx, userID, pct)
}

// HashrateHistory returns a worker's computed hashrate series over the trailing
// duration.
func (f *Facade) HashrateHistory(ctx context.Context, userID, worker string, duration time.Duration) ([]influx.HashratePoint, error) {
	if f.metrics == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "hashrate_history",
			"time-series backend not configured")
	}
	return f.metrics.GetHashrateHistory(ctx, userID, worker, duration)
}

// ShareHistory returns a user's accepted/rejected share totals over the
// trailing duration, from the time-series backend rather than the in-memory
// rings, so it can look back further than the bucket retention.
func (f *Facade) ShareHistory(ctx context.Context, userID string, duration time.Duration) (*influx.ShareStats, error) {
	if f.metrics == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "share_history",
			"time-series backend not configured")
	}
	return f.metrics.GetShareStats(ctx, userID, duration)
}

// PoolHashrate returns the pool-wide hashrate in MH/s over the trailing duration
func (f *Facade) PoolHashrate(ctx context.Context, duration time.Duration) (float64, error) {
	if f.metrics == nil {
		return 0, errors.New(errors.ErrorTypeInternal, "pool_hashrate",
			"time-series backend not configured")
	}
	return f.metrics.GetPoolHashrate(ctx, duration)
}

// Earnings holds the payout projections for one user
type Earnings struct {
	EstimatedSats int64 `json:"estimated_sats"`
	DailyRateSats int64 `json:"daily_rate_sats"`
}

// Earnings projects the user's payout for the open round and the constant-rate
// daily earnings against the given round reward. Before any difficulty has
// been observed both projections are 0.
func (f *Facade) Earnings(ctx context.Context, userID string, reward btcutil.Amount) Earnings {
	donate, err := f.store.DonatePercent(ctx, userID, f.cfg.DefaultDonatePercent)
	if err != nil {
		donate = f.cfg.DefaultDonatePercent
	}
	solve := f.tracker.SharesToSolve()
	interval := f.rates.UserStats(userID, f.cfg.RateInterval)

	return Earnings{
		EstimatedSats: int64(f.estimator.EstimateRoundPayout(
			f.accountant.UserShares(userID), f.accountant.TotalShares(), solve, donate, reward)),
		DailyRateSats: int64(f.estimator.EstimateDailyRate(
			interval.Accepted, solve, donate, reward)),
	}
}
