// Package pplns implements the PPLNS window accounting for the poolstats engine.
// It maintains, per block-finding round, a difficulty-weighted sliding window of
// the most recently accepted shares and per-user totals within that window.
package pplns

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

// Status represents the lifecycle state of a round
type Status int

const (
	// RoundOpen - the round is accumulating shares
	RoundOpen Status = iota
	// RoundSolved - a block was found; the window is frozen for payout
	RoundSolved
	// RoundOrphaned - the found block was orphaned; the window is discarded
	RoundOrphaned
)

// String returns string representation of the status
func (s Status) String() string {
	switch s {
	case RoundOpen:
		return "open"
	case RoundSolved:
		return "solved"
	case RoundOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Round represents one block-finding period. Exactly one round is open at a time.
type Round struct {
	ID        int64
	Reward    btcutil.Amount
	StartedAt time.Time
	SolvedAt  *time.Time
	Status    Status
}

// WindowShare is one entry of the PPLNS window. Credited tracks the portion of
// the share's difficulty still counted in the window; it drops below Difficulty
// only for the oldest share when the window boundary cuts through it.
type WindowShare struct {
	User       string  `json:"user"`
	Difficulty float64 `json:"difficulty"`
	Credited   float64 `json:"credited"`
}

// WindowSnapshot is the frozen, read-only view of a solved round's window.
// It is the basis for the real payout calculation.
type WindowSnapshot struct {
	RoundID     int64              `json:"round_id"`
	Reward      btcutil.Amount     `json:"reward"`
	SolvedAt    time.Time          `json:"solved_at"`
	TotalShares float64            `json:"total_shares"`
	UserShares  map[string]float64 `json:"user_shares"`
}
