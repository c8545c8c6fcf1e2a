package rate

import (
	"sync"
	"time"

	"github.com/bardlex/poolstats/pkg/log"
)

// HealthBand classifies a worker's Work-Utility-Efficiency
type HealthBand string

const (
	// BandHealthy - WUE at or above the warning threshold
	BandHealthy HealthBand = "healthy"
	// BandWarning - WUE between the critical and warning thresholds
	BandWarning HealthBand = "warning"
	// BandCritical - WUE below the critical threshold
	BandCritical HealthBand = "critical"
	// BandUnknown - no reported hashrate to compare against
	BandUnknown HealthBand = "unknown"
)

// Config holds aggregator tunables. The difficulty-to-hash conversion depends
// on the target proof-of-work function and must come from configuration.
type Config struct {
	HashesPerDiff float64
	Retention     time.Duration
	WUECritical   float64
	WUEWarning    float64
}

// Aggregator owns rolling share counters per user and per worker. It is
// independent of round boundaries. Queries see state as of the last completed
// Record call.
type Aggregator struct {
	mu     sync.RWMutex
	logger *log.Logger
	cfg    *Config
	now    func() time.Time

	users   map[string]*ring
	workers map[string]*ring
}

// NewAggregator creates an aggregator with empty counters
func NewAggregator(cfg *Config, logger *log.Logger) *Aggregator {
	return &Aggregator{
		logger:  logger.WithComponent("rate"),
		cfg:     cfg,
		now:     time.Now,
		users:   make(map[string]*ring),
		workers: make(map[string]*ring),
	}
}

func (a *Aggregator) retentionMinutes() int {
	m := int(a.cfg.Retention / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

func workerKey(user, worker string) string {
	return user + "/" + worker
}

// Record adds one share to the user's and worker's rolling counters
func (a *Aggregator) Record(user, worker string, difficulty float64, accepted bool, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ur, ok := a.users[user]
	if !ok {
		ur = newRing(a.retentionMinutes())
		a.users[user] = ur
	}
	ur.add(at, difficulty, accepted)

	key := workerKey(user, worker)
	wr, ok := a.workers[key]
	if !ok {
		wr = newRing(a.retentionMinutes())
		a.workers[key] = wr
	}
	wr.add(at, difficulty, accepted)
}

// WindowStats holds trailing counters for one key over one window
type WindowStats struct {
	Accepted float64
	Rejected float64
	Count    int64
	Window   time.Duration
}

// UserStats returns trailing counters for a user
func (a *Aggregator) UserStats(user string, window time.Duration) WindowStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats(a.users[user], window)
}

// WorkerStats returns trailing counters for a worker
func (a *Aggregator) WorkerStats(user, worker string, window time.Duration) WindowStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats(a.workers[workerKey(user, worker)], window)
}

func (a *Aggregator) stats(r *ring, window time.Duration) WindowStats {
	ws := WindowStats{Window: window}
	if r == nil {
		return ws
	}
	ws.Accepted, ws.Rejected, ws.Count = r.sums(a.now(), window)
	return ws
}

// Hashrate converts trailing accepted difficulty to MHash/sec
func (a *Aggregator) Hashrate(ws WindowStats) float64 {
	secs := ws.Window.Seconds()
	if secs <= 0 {
		return 0
	}
	return ws.Accepted * a.cfg.HashesPerDiff / (secs * 1e6)
}

// WorkUtility is the accepted-difficulty rate normalized to a minute
func WorkUtility(ws WindowStats) float64 {
	secs := ws.Window.Seconds()
	if secs <= 0 {
		return 0
	}
	return ws.Accepted / secs * 60
}

// Efficiency is the accepted percentage of all counted difficulty.
// Zero submissions yield 0, never NaN.
func Efficiency(accepted, rejected float64) float64 {
	total := accepted + rejected
	if total <= 0 {
		return 0
	}
	return accepted / total * 100
}

// AverageDifficulty is the mean accepted share difficulty over the window
func AverageDifficulty(ws WindowStats) float64 {
	if ws.Count == 0 {
		return 0
	}
	return ws.Accepted / float64(ws.Count)
}

// WUE relates work utility to the hashrate the rig reports about itself.
// A rig hashing as fast as it claims lands near 1; reportedMHS of 0 yields 0.
func WUE(wu, reportedMHS float64) float64 {
	if reportedMHS <= 0 {
		return 0
	}
	return wu / (reportedMHS * 1000)
}

// Band classifies a WUE value against the configured thresholds
func (a *Aggregator) Band(wue, reportedMHS float64) HealthBand {
	if reportedMHS <= 0 {
		return BandUnknown
	}
	switch {
	case wue < a.cfg.WUECritical:
		return BandCritical
	case wue < a.cfg.WUEWarning:
		return BandWarning
	default:
		return BandHealthy
	}
}

// Checkpoint is the serializable rolling-counter state
type Checkpoint struct {
	Users   map[string][]bucket `json:"users"`
	Workers map[string][]bucket `json:"workers"`
}

// Checkpoint captures the live buckets of every key
func (a *Aggregator) Checkpoint() *Checkpoint {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cp := &Checkpoint{
		Users:   make(map[string][]bucket, len(a.users)),
		Workers: make(map[string][]bucket, len(a.workers)),
	}
	for user, r := range a.users {
		if buckets := r.snapshot(); buckets != nil {
			cp.Users[user] = buckets
		}
	}
	for key, r := range a.workers {
		if buckets := r.snapshot(); buckets != nil {
			cp.Workers[key] = buckets
		}
	}
	return cp
}

// Restore loads a checkpoint into the aggregator
func (a *Aggregator) Restore(cp *Checkpoint) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for user, buckets := range cp.Users {
		r := newRing(a.retentionMinutes())
		r.restore(buckets)
		a.users[user] = r
	}
	for key, buckets := range cp.Workers {
		r := newRing(a.retentionMinutes())
		r.restore(buckets)
		a.workers[key] = r
	}
}
