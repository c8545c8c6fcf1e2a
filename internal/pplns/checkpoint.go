package pplns

import (
	"time"

	"github.com/bardlex/poolstats/pkg/log"
)

// Checkpoint is the serializable state of the open round's window. Restoring
// it and replaying the subsequent share log yields the same window state as
// uninterrupted processing; per-user totals are rebuilt from the window
// entries rather than stored, so a checkpoint can never disagree with itself.
type Checkpoint struct {
	RoundID           int64         `json:"round_id"`
	Fence             uint64        `json:"fence"`
	NetworkDifficulty float64       `json:"network_difficulty"`
	StartedAt         time.Time     `json:"started_at"`
	WindowShares      []WindowShare `json:"window_shares"`
	RunningSum        float64       `json:"running_difficulty_sum"`
}

// Checkpoint captures the open round's window state
func (a *Accountant) Checkpoint() *Checkpoint {
	a.mu.RLock()
	defer a.mu.RUnlock()

	window := make([]WindowShare, len(a.window)-a.head)
	copy(window, a.window[a.head:])

	return &Checkpoint{
		RoundID:           a.round.ID,
		Fence:             a.fence,
		NetworkDifficulty: a.netDiff,
		StartedAt:         a.round.StartedAt,
		WindowShares:      window,
		RunningSum:        a.sum,
	}
}

// RestoreAccountant rebuilds an accountant from a checkpoint
func RestoreAccountant(cp *Checkpoint, cfg *Config, logger *log.Logger) *Accountant {
	a := &Accountant{
		logger:        logger.WithComponent("pplns"),
		sharesPerDiff: cfg.SharesPerDiff,
		windowFactor:  cfg.WindowFactor,
		netDiff:       cp.NetworkDifficulty,
		fence:         cp.Fence,
		perUser:       make(map[string]float64),
	}
	a.round = Round{ID: cp.RoundID, StartedAt: cp.StartedAt, Status: RoundOpen}

	a.window = make([]WindowShare, len(cp.WindowShares))
	copy(a.window, cp.WindowShares)
	for _, ws := range a.window {
		a.sum += ws.Credited
		a.perUser[ws.User] += ws.Credited
	}
	// RunningSum is carried for integrity checking only; the rebuilt sum wins
	if cp.RunningSum != 0 && diffExceedsEpsilon(cp.RunningSum, a.sum) {
		a.logger.Warn("checkpoint running sum mismatch, using rebuilt sum",
			"checkpoint_sum", cp.RunningSum, "rebuilt_sum", a.sum)
	}
	return a
}

func diffExceedsEpsilon(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d > 1e-6
}
