package query

import (
	"context"
	"testing"
	"time"

	"github.com/bardlex/poolstats/internal/chain"
	"github.com/bardlex/poolstats/internal/database/postgres"
	"github.com/bardlex/poolstats/internal/liveness"
	"github.com/bardlex/poolstats/internal/payout"
	"github.com/bardlex/poolstats/internal/pplns"
	"github.com/bardlex/poolstats/internal/rate"
	"github.com/bardlex/poolstats/pkg/errors"
	"github.com/bardlex/poolstats/pkg/log"
)

type fakeStore struct {
	donate   map[string]float64
	balances map[string]*postgres.BalanceRow
	setCalls []string
}

func (s *fakeStore) DonatePercent(_ context.Context, userID string, poolDefault float64) (float64, error) {
	if pct, ok := s.donate[userID]; ok {
		return pct, nil
	}
	return poolDefault, nil
}

func (s *fakeStore) SetDonatePercent(_ context.Context, userID string, pct float64) error {
	if s.donate == nil {
		s.donate = make(map[string]float64)
	}
	s.donate[userID] = pct
	s.setCalls = append(s.setCalls, userID)
	return nil
}

func (s *fakeStore) UserBalances(_ context.Context, userID string) (*postgres.BalanceRow, error) {
	if row, ok := s.balances[userID]; ok {
		return row, nil
	}
	return &postgres.BalanceRow{UserID: userID}, nil
}

type testFacade struct {
	accountant *pplns.Accountant
	rates      *rate.Aggregator
	monitor    *liveness.Monitor
	tracker    *chain.DifficultyTracker
	store      *fakeStore
	facade     *Facade
}

func newTestFacade() *testFacade {
	logger := log.New("test-query", "test", "error", "json")

	accountant := pplns.NewAccountant(&pplns.Config{
		SharesPerDiff:     50,
		WindowFactor:      2,
		NetworkDifficulty: 100,
	}, logger)
	rates := rate.NewAggregator(&rate.Config{
		HashesPerDiff: 4294967296,
		Retention:     24 * time.Hour,
		WUECritical:   0.80,
		WUEWarning:    0.87,
	}, logger)
	monitor := liveness.NewMonitor(&liveness.Config{
		OnlineTimeout: 10 * time.Minute,
		StaleTimeout:  5 * time.Minute,
	}, logger)
	tracker := chain.NewDifficultyTracker(10, 50)
	store := &fakeStore{
		donate:   map[string]float64{},
		balances: map[string]*postgres.BalanceRow{},
	}

	facade := New(&Config{
		RateInterval:         10 * time.Minute,
		DayWindow:            24 * time.Hour,
		DefaultDonatePercent: 1.5,
	}, accountant, rates, monitor, tracker, &payout.Config{
		NMultiplier:  2,
		DailyPeriods: 144,
	}, store, nil, logger)

	return &testFacade{
		accountant: accountant,
		rates:      rates,
		monitor:    monitor,
		tracker:    tracker,
		store:      store,
		facade:     facade,
	}
}

func (tf *testFacade) submit(user, worker string, diff float64, accepted bool) {
	fence := tf.accountant.CurrentFence()
	if accepted {
		if err := tf.accountant.Observe(user, diff, true, fence); err != nil {
			panic(err)
		}
	}
	tf.rates.Record(user, worker, diff, accepted, time.Now())
	tf.monitor.TouchShare(user, worker, time.Now())
}

func TestUserSummary(t *testing.T) {
	tf := newTestFacade()
	tf.store.donate["alice"] = 2.5
	tf.store.balances["alice"] = &postgres.BalanceRow{
		UserID:          "alice",
		ConfirmedSats:   5000,
		UnconfirmedSats: 1200,
		TotalEarnedSats: 90000,
		TotalPaidSats:   83800,
	}

	tf.submit("alice", "rig1", 30, true)
	tf.submit("alice", "rig1", 10, true)
	tf.submit("bob", "miner", 60, true)

	summary, err := tf.facade.UserSummary(context.Background(), "alice")
	if err != nil {
		t.Fatalf("UserSummary() failed: %v", err)
	}

	if summary.RoundShares != 40 {
		t.Errorf("RoundShares = %v, want 40", summary.RoundShares)
	}
	if summary.PPLNSTotalShares != 100 {
		t.Errorf("PPLNSTotalShares = %v, want 100", summary.PPLNSTotalShares)
	}
	if summary.IntervalShares != 40 {
		t.Errorf("IntervalShares = %v, want 40", summary.IntervalShares)
	}
	if summary.AverageDifficulty != 20 {
		t.Errorf("AverageDifficulty = %v, want 20", summary.AverageDifficulty)
	}
	if summary.DonationPct != 2.5 {
		t.Errorf("DonationPct = %v, want 2.5", summary.DonationPct)
	}
	if summary.BalanceSats != 5000 || summary.TotalPaidSats != 83800 {
		t.Errorf("balances = %+v", summary)
	}

	// 40 diff over 600s at 2^32 hashes per diff unit
	wantMHS := 40 * 4294967296.0 / (600 * 1e6)
	if summary.HashrateMHS != wantMHS {
		t.Errorf("HashrateMHS = %v, want %v", summary.HashrateMHS, wantMHS)
	}
}

func TestUserSummaryUnknownUser(t *testing.T) {
	tf := newTestFacade()

	summary, err := tf.facade.UserSummary(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("UserSummary(unknown) failed: %v", err)
	}
	if summary.RoundShares != 0 || summary.HashrateMHS != 0 || summary.BalanceSats != 0 {
		t.Errorf("unknown user summary not zeroed: %+v", summary)
	}
	if summary.DonationPct != 1.5 {
		t.Errorf("DonationPct = %v, want pool default 1.5", summary.DonationPct)
	}
}

func TestSharesToSolve(t *testing.T) {
	tf := newTestFacade()

	if got := tf.facade.SharesToSolve(); got != 0 {
		t.Errorf("SharesToSolve() before any block = %v, want 0", got)
	}

	tf.tracker.Observe(100)
	if got := tf.facade.SharesToSolve(); got != 5000 {
		t.Errorf("SharesToSolve() = %v, want 5000", got)
	}
}

func TestWorkers(t *testing.T) {
	tf := newTestFacade()

	tf.submit("alice", "rig2", 20, true)
	tf.submit("alice", "rig1", 30, true)
	tf.submit("alice", "rig1", 10, false)
	tf.monitor.ReportStatus(&liveness.StatusReport{
		User:   "alice",
		Worker: "rig1",
		Devices: []liveness.DeviceStatus{
			{"name": "GPU0", "hashrate": 50.0, "temperature": 61.0},
		},
		ReportedAt: time.Now(),
	})

	workers := tf.facade.Workers("alice")
	if len(workers) != 2 {
		t.Fatalf("Workers() returned %d workers, want 2", len(workers))
	}
	if workers[0].Name != "rig1" || workers[1].Name != "rig2" {
		t.Errorf("workers not sorted by name: %q, %q", workers[0].Name, workers[1].Name)
	}

	rig1 := workers[0]
	if !rig1.Online {
		t.Error("rig1 should be online")
	}
	if rig1.StatusStale {
		t.Error("rig1 status should be fresh")
	}
	if rig1.Accepted24h != 30 || rig1.Rejected24h != 10 {
		t.Errorf("rig1 24h counters = %v/%v, want 30/10", rig1.Accepted24h, rig1.Rejected24h)
	}
	if rig1.Efficiency != 75 {
		t.Errorf("rig1 Efficiency = %v, want 75", rig1.Efficiency)
	}
	if len(rig1.Status) != 1 {
		t.Errorf("rig1 has %d status devices, want 1", len(rig1.Status))
	}
	if rig1.WU <= 0 || rig1.WUE <= 0 {
		t.Errorf("rig1 WU/WUE = %v/%v, want positive", rig1.WU, rig1.WUE)
	}

	rig2 := workers[1]
	if rig2.Status != nil {
		t.Error("rig2 never reported, Status should be nil")
	}
	if rig2.Band != rate.BandUnknown {
		t.Errorf("rig2 Band = %q, want unknown without a reported hashrate", rig2.Band)
	}
}

func TestGpuDetail(t *testing.T) {
	tf := newTestFacade()
	tf.monitor.ReportStatus(&liveness.StatusReport{
		User:   "alice",
		Worker: "rig1",
		Devices: []liveness.DeviceStatus{
			{"name": "GPU0", "fan_speed": 3000},
			{"name": "GPU1"},
		},
		ReportedAt: time.Now(),
	})

	device, err := tf.facade.GpuDetail("alice", "rig1", 0)
	if err != nil {
		t.Fatalf("GpuDetail() failed: %v", err)
	}
	if device.Name() != "GPU0" || device.FanSpeed() != 3000 {
		t.Errorf("device = %v", device)
	}

	if _, err := tf.facade.GpuDetail("alice", "rig1", 5); err == nil {
		t.Error("GpuDetail() with out-of-range index should fail")
	}
	if _, err := tf.facade.GpuDetail("alice", "rig9", 0); err == nil {
		t.Error("GpuDetail() for unreported worker should fail")
	}
}

func TestSetDonationPercent(t *testing.T) {
	tf := newTestFacade()

	if err := tf.facade.SetDonationPercent(context.Background(), "alice", 5); err != nil {
		t.Fatalf("SetDonationPercent() failed: %v", err)
	}
	if tf.store.donate["alice"] != 5 {
		t.Errorf("stored donate = %v, want 5", tf.store.donate["alice"])
	}

	for _, pct := range []float64{-1, 101} {
		err := tf.facade.SetDonationPercent(context.Background(), "alice", pct)
		if err == nil {
			t.Errorf("SetDonationPercent(%v) should fail", pct)
		}
		if !errors.IsType(err, errors.ErrorTypeValidation) {
			t.Errorf("SetDonationPercent(%v) error type = %v, want validation", pct, err)
		}
	}
}

func TestEarnings(t *testing.T) {
	tf := newTestFacade()
	tf.tracker.Observe(2) // shares_to_solve = 100

	// 50 of 200 window shares, window already past shares_to_solve x N
	if err := tf.accountant.Observe("alice", 50, true, tf.accountant.CurrentFence()); err != nil {
		t.Fatal(err)
	}
	if err := tf.accountant.Observe("bob", 150, true, tf.accountant.CurrentFence()); err != nil {
		t.Fatal(err)
	}

	earnings := tf.facade.Earnings(context.Background(), "alice", 1000)
	if earnings.EstimatedSats != 246 {
		// round(1000 x (1 - 1.5/100) x 50/200) with the pool-default donation
		t.Errorf("EstimatedSats = %d, want 246", earnings.EstimatedSats)
	}
}
