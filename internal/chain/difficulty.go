// Package chain watches the blockchain for new blocks via ZMQ and derives the
// network difficulty inputs the PPLNS accountant and payout estimator consume.
package chain

import (
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
)

// diff1Bits is the compact target of difficulty 1
const diff1Bits = 0x1d00ffff

// DifficultyFromBits converts a compact target to the conventional difficulty
// value (difficulty-1 target divided by the block's target).
func DifficultyFromBits(bits uint32) float64 {
	target := blockchain.CompactToBig(bits)
	if target.Sign() <= 0 {
		return 0
	}
	diff1 := blockchain.CompactToBig(diff1Bits)
	f, _ := new(big.Rat).SetFrac(diff1, target).Float64()
	return f
}

// DifficultyTracker keeps a rolling average of recent block difficulties.
// Averaging over many blocks smooths retarget steps so the shares-to-solve
// estimate does not jump on every retarget.
type DifficultyTracker struct {
	mu            sync.RWMutex
	sharesPerDiff float64
	window        []float64
	next          int
	filled        int
	sum           float64
	current       float64
}

// NewDifficultyTracker creates a tracker averaging over the last n blocks
func NewDifficultyTracker(n int, sharesPerDiff float64) *DifficultyTracker {
	if n < 1 {
		n = 1
	}
	return &DifficultyTracker{
		sharesPerDiff: sharesPerDiff,
		window:        make([]float64, n),
	}
}

// Observe records one block's network difficulty
func (t *DifficultyTracker) Observe(difficulty float64) {
	if difficulty <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.filled == len(t.window) {
		t.sum -= t.window[t.next]
	} else {
		t.filled++
	}
	t.window[t.next] = difficulty
	t.sum += difficulty
	t.next = (t.next + 1) % len(t.window)
	t.current = difficulty
}

// Current returns the most recently observed network difficulty
func (t *DifficultyTracker) Current() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Average returns the rolling mean difficulty, 0 before the first block
func (t *DifficultyTracker) Average() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.filled == 0 {
		return 0
	}
	return t.sum / float64(t.filled)
}

// SharesToSolve is the probabilistic share-unit difficulty needed to find a
// block at the averaged network difficulty.
func (t *DifficultyTracker) SharesToSolve() float64 {
	return t.Average() * t.sharesPerDiff
}
