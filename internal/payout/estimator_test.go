package payout

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
)

func testConfig() *Config {
	return &Config{NMultiplier: 2, DailyPeriods: 144}
}

func TestEstimateRoundPayout(t *testing.T) {
	c := testConfig()

	tests := []struct {
		name          string
		userShares    float64
		pplnsTotal    float64
		sharesToSolve float64
		donatePct     float64
		reward        btcutil.Amount
		want          btcutil.Amount
	}{
		{
			// 1000 x (50/max(200, 100x2)) = 1000 x 50/200
			name:       "full window known value",
			userShares: 50, pplnsTotal: 200, sharesToSolve: 100,
			donatePct: 0, reward: 1000,
			want: 250,
		},
		{
			name:       "zero user shares",
			userShares: 0, pplnsTotal: 1000, sharesToSolve: 100,
			donatePct: 5, reward: 1000,
			want: 0,
		},
		{
			name:       "empty window and no solve estimate",
			userShares: 0, pplnsTotal: 0, sharesToSolve: 0,
			donatePct: 0, reward: 1000,
			want: 0,
		},
		{
			// Window only holds 100 but denominator is held at 100x2=200,
			// damping the estimate early in the round
			name:       "filling window is damped",
			userShares: 100, pplnsTotal: 100, sharesToSolve: 100,
			donatePct: 0, reward: 1000,
			want: 500,
		},
		{
			// Overfull window wins over the solve estimate
			name:       "overfull window dominates",
			userShares: 100, pplnsTotal: 400, sharesToSolve: 100,
			donatePct: 0, reward: 1000,
			want: 250,
		},
		{
			name:       "donation deducted",
			userShares: 50, pplnsTotal: 200, sharesToSolve: 100,
			donatePct: 10, reward: 1000,
			want: 225,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.EstimateRoundPayout(tt.userShares, tt.pplnsTotal, tt.sharesToSolve, tt.donatePct, tt.reward)
			if got != tt.want {
				t.Errorf("EstimateRoundPayout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimateDailyRate(t *testing.T) {
	c := testConfig()

	// (10/100) x 1000 x 0.9 x 144 = 12960
	if got := c.EstimateDailyRate(10, 100, 10, 1000); got != 12960 {
		t.Errorf("EstimateDailyRate() = %v, want 12960", got)
	}

	if got := c.EstimateDailyRate(10, 0, 0, 1000); got != 0 {
		t.Errorf("EstimateDailyRate() with zero solve estimate = %v, want 0", got)
	}
	if got := c.EstimateDailyRate(0, 100, 0, 1000); got != 0 {
		t.Errorf("EstimateDailyRate() with no shares = %v, want 0", got)
	}
}
