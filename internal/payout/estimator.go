// Package payout projects PPLNS earnings from window state, round reward and
// donation settings. Everything here is a pure function: all inputs are
// collaborator-supplied, nothing is computed from global state, so the
// estimates are trivially reproducible.
package payout

import (
	"math"

	"github.com/btcsuite/btcd/btcutil"
)

// Config holds the projection constants
type Config struct {
	// NMultiplier is the PPLNS window factor (window = N x difficulty)
	NMultiplier float64
	// DailyPeriods is how many estimation intervals fit in a day
	// (144 for a 10-minute interval)
	DailyPeriods float64
}

// EstimateRoundPayout projects a user's payout for the open round.
//
// The user's fraction of the PPLNS window is scaled against
// max(pplnsTotalShares, sharesToSolve x N) so a window still filling up early
// in a round does not overstate the payout. sharesToSolve is the
// collaborator-supplied probabilistic difficulty needed to find a block.
// An empty window yields 0, never a division error.
func (c *Config) EstimateRoundPayout(userShares, pplnsTotalShares, sharesToSolve, donatePct float64, roundReward btcutil.Amount) btcutil.Amount {
	denom := math.Max(pplnsTotalShares, sharesToSolve*c.NMultiplier)
	if denom <= 0 || userShares <= 0 {
		return 0
	}
	payout := float64(roundReward) * (1 - donatePct/100) * (userShares / denom)
	return btcutil.Amount(math.Round(payout))
}

// EstimateDailyRate projects constant-hashrate, 100%-luck daily earnings from
// the user's trailing interval share total. A zero sharesToSolve estimate
// yields 0 rather than infinity.
func (c *Config) EstimateDailyRate(lastIntervalShares, sharesToSolve, donatePct float64, roundReward btcutil.Amount) btcutil.Amount {
	if sharesToSolve <= 0 || lastIntervalShares <= 0 {
		return 0
	}
	rate := (lastIntervalShares / sharesToSolve) * float64(roundReward) * (1 - donatePct/100) * c.DailyPeriods
	return btcutil.Amount(math.Round(rate))
}
