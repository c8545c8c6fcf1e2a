package pplns

import (
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/bardlex/poolstats/pkg/errors"
	"github.com/bardlex/poolstats/pkg/log"
)

// Accountant owns the PPLNS window of the currently open round. All difficulty
// amounts are expressed in diff-1 share units; the window target is
// networkDifficulty * sharesPerDiff * windowFactor.
//
// Readers observe state as of the last completed Observe call. Snapshot reads
// may lag a concurrent ingestion batch by at most one share; they are never
// torn.
type Accountant struct {
	mu     sync.RWMutex
	logger *log.Logger

	sharesPerDiff float64
	windowFactor  float64
	netDiff       float64

	fence uint64
	round Round

	// window[head:] is the live window, oldest first
	window  []WindowShare
	head    int
	sum     float64
	perUser map[string]float64

	lastSolved *WindowSnapshot
	rerouted   uint64
	conflicts  uint64
}

// Config holds accountant tunables
type Config struct {
	SharesPerDiff     float64
	WindowFactor      float64
	NetworkDifficulty float64
}

// NewAccountant creates an accountant with a fresh open round
func NewAccountant(cfg *Config, logger *log.Logger) *Accountant {
	a := &Accountant{
		logger:        logger.WithComponent("pplns"),
		sharesPerDiff: cfg.SharesPerDiff,
		windowFactor:  cfg.WindowFactor,
		netDiff:       cfg.NetworkDifficulty,
		perUser:       make(map[string]float64),
		fence:         1,
	}
	a.round = Round{ID: 1, StartedAt: time.Now(), Status: RoundOpen}
	return a
}

// CurrentFence returns the monotonic fencing token of the open round. Shares
// must carry the fence they were admitted under so that round transitions
// attribute every share to exactly one round.
func (a *Accountant) CurrentFence() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fence
}

// CurrentRound returns a copy of the open round
func (a *Accountant) CurrentRound() Round {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.round
}

// SetNetworkDifficulty updates the difficulty used for the window target.
// A lower target takes effect on the next observed share.
func (a *Accountant) SetNetworkDifficulty(diff float64) {
	if diff <= 0 {
		return
	}
	a.mu.Lock()
	a.netDiff = diff
	a.evictLocked()
	a.mu.Unlock()
}

// WindowTarget returns the maximum total difficulty of the window in share units
func (a *Accountant) WindowTarget() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.targetLocked()
}

func (a *Accountant) targetLocked() float64 {
	// Until the first difficulty observation the window is unbounded;
	// eviction starts once a real target exists.
	if a.netDiff <= 0 {
		return math.Inf(1)
	}
	return a.netDiff * a.sharesPerDiff * a.windowFactor
}

// Observe admits a share into the open round's window. Rejected shares are
// ignored here (they never count toward PPLNS). A share fenced for an earlier
// round is routed into the current round and counted as rerouted; a share
// bearing a fence from the future is a conflict and is dropped.
func (a *Accountant) Observe(user string, difficulty float64, accepted bool, fence uint64) error {
	if !accepted {
		return nil
	}
	if difficulty <= 0 {
		return errors.New(errors.ErrorTypeValidation, "pplns_observe", "share difficulty must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if fence > a.fence {
		a.conflicts++
		return errors.New(errors.ErrorTypeRound, "pplns_observe", "share fence ahead of open round").
			WithContext("share_fence", fence).
			WithContext("round_fence", a.fence)
	}
	if fence < a.fence {
		// In-flight share from before a transition. The work is real, so it
		// counts toward the round that is open now.
		a.rerouted++
		a.logger.Debug("rerouted stale-fence share",
			"user", user, "share_fence", fence, "round_fence", a.fence)
	}

	a.window = append(a.window, WindowShare{User: user, Difficulty: difficulty, Credited: difficulty})
	a.sum += difficulty
	a.perUser[user] += difficulty
	a.evictLocked()
	return nil
}

// evictLocked trims the front of the window until sum <= target, splitting the
// oldest share exactly at the boundary. Partial credit is kept as a float so no
// rounding happens mid-stream.
func (a *Accountant) evictLocked() {
	target := a.targetLocked()
	for a.sum > target && a.head < len(a.window) {
		front := &a.window[a.head]
		excess := a.sum - target
		if front.Credited <= excess {
			a.sum -= front.Credited
			a.debitLocked(front.User, front.Credited)
			front.Credited = 0
			a.head++
		} else {
			front.Credited -= excess
			a.debitLocked(front.User, excess)
			a.sum = target
		}
	}

	// Reclaim evicted prefix once it dominates the backing array
	if a.head > len(a.window)/2 && a.head > 1024 {
		live := len(a.window) - a.head
		copy(a.window, a.window[a.head:])
		a.window = a.window[:live]
		a.head = 0
	}
}

func (a *Accountant) debitLocked(user string, amount float64) {
	rest := a.perUser[user] - amount
	if rest <= 1e-9 {
		delete(a.perUser, user)
		return
	}
	a.perUser[user] = rest
}

// TotalShares returns the total credited difficulty of the open window
func (a *Accountant) TotalShares() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sum
}

// UserShares returns the credited difficulty of one user in the open window
func (a *Accountant) UserShares(user string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.perUser[user]
}

// WindowUsers lists every user with credited difficulty in the open window
func (a *Accountant) WindowUsers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	users := make([]string, 0, len(a.perUser))
	for user := range a.perUser {
		users = append(users, user)
	}
	return users
}

// ShareFraction returns the user's portion of the open window in [0,1].
// An empty window yields 0, never NaN.
func (a *Accountant) ShareFraction(user string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.sum <= 0 {
		return 0
	}
	f := a.perUser[user] / a.sum
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Solve freezes the open window as the payout basis, transitions the round to
// solved and opens a fresh round under a new fence. Shares submitted
// concurrently land in exactly one of the two rounds depending on whether they
// acquired the lock before or after this call.
func (a *Accountant) Solve(reward btcutil.Amount, solvedAt time.Time) *WindowSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := make(map[string]float64, len(a.perUser))
	for user, shares := range a.perUser {
		users[user] = shares
	}
	snap := &WindowSnapshot{
		RoundID:     a.round.ID,
		Reward:      reward,
		SolvedAt:    solvedAt,
		TotalShares: a.sum,
		UserShares:  users,
	}
	a.lastSolved = snap

	a.round.Status = RoundSolved
	a.round.Reward = reward
	a.round.SolvedAt = &solvedAt
	a.logger.LogRoundTransition(a.round.ID, RoundOpen.String(), RoundSolved.String(), a.fence)

	a.startRoundLocked(solvedAt)
	return snap
}

// Orphan discards the open window without affecting payouts already made and
// opens a fresh round under a new fence.
func (a *Accountant) Orphan(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.round.Status = RoundOrphaned
	a.logger.LogRoundTransition(a.round.ID, RoundOpen.String(), RoundOrphaned.String(), a.fence)
	a.startRoundLocked(at)
}

func (a *Accountant) startRoundLocked(at time.Time) {
	a.fence++
	a.round = Round{ID: a.round.ID + 1, StartedAt: at, Status: RoundOpen}
	a.window = nil
	a.head = 0
	a.sum = 0
	a.perUser = make(map[string]float64)
}

// LastSolved returns the frozen window of the most recently solved round, or
// nil if no round has been solved yet.
func (a *Accountant) LastSolved() *WindowSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastSolved
}

// ConflictCount returns how many shares were dropped with a future fence
func (a *Accountant) ConflictCount() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conflicts
}

// ReroutedCount returns how many stale-fence shares were routed into a newer round
func (a *Accountant) ReroutedCount() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rerouted
}
