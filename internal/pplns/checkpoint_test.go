package pplns

import (
	"encoding/json"
	"testing"
)

func TestCheckpointRestoreReplayIdempotence(t *testing.T) {
	cfg := &Config{SharesPerDiff: 50, WindowFactor: 2, NetworkDifficulty: 1}
	users := []string{"alice", "bob", "carol"}
	diffs := []float64{13, 7, 42, 5, 61, 2, 90, 33, 11, 28, 4, 76, 19, 55}

	// Uninterrupted processing
	full := NewAccountant(cfg, testLogger())
	for i, d := range diffs {
		observe(t, full, users[i%len(users)], d)
	}

	// Interrupted at the midpoint: checkpoint, serialize, restore, replay
	split := len(diffs) / 2
	first := NewAccountant(cfg, testLogger())
	for i := 0; i < split; i++ {
		observe(t, first, users[i%len(users)], diffs[i])
	}

	raw, err := json.Marshal(first.Checkpoint())
	if err != nil {
		t.Fatalf("marshal checkpoint: %v", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		t.Fatalf("unmarshal checkpoint: %v", err)
	}

	restored := RestoreAccountant(&cp, cfg, testLogger())
	for i := split; i < len(diffs); i++ {
		observe(t, restored, users[i%len(users)], diffs[i])
	}

	if got, want := restored.TotalShares(), full.TotalShares(); got != want {
		t.Errorf("TotalShares() = %v after restore+replay, want %v", got, want)
	}
	for _, u := range users {
		if got, want := restored.UserShares(u), full.UserShares(u); got != want {
			t.Errorf("UserShares(%s) = %v after restore+replay, want %v", u, got, want)
		}
	}
	if got, want := restored.CurrentFence(), full.CurrentFence(); got != want {
		t.Errorf("CurrentFence() = %d after restore, want %d", got, want)
	}
	if got, want := restored.CurrentRound().ID, full.CurrentRound().ID; got != want {
		t.Errorf("CurrentRound().ID = %d after restore, want %d", got, want)
	}
}

func TestCheckpointCarriesPartialCredit(t *testing.T) {
	cfg := &Config{SharesPerDiff: 50, WindowFactor: 2, NetworkDifficulty: 1}
	a := NewAccountant(cfg, testLogger())
	observe(t, a, "alice", 60)
	observe(t, a, "bob", 60) // alice partially evicted to 40

	cp := a.Checkpoint()
	if len(cp.WindowShares) != 2 {
		t.Fatalf("checkpoint window has %d shares, want 2", len(cp.WindowShares))
	}
	if cp.WindowShares[0].Credited != 40 || cp.WindowShares[0].Difficulty != 60 {
		t.Errorf("front share = %+v, want credited 40 of 60", cp.WindowShares[0])
	}

	restored := RestoreAccountant(cp, cfg, testLogger())
	if got := restored.UserShares("alice"); got != 40 {
		t.Errorf("UserShares(alice) = %v after restore, want 40", got)
	}
	if got := restored.TotalShares(); got != 100 {
		t.Errorf("TotalShares() = %v after restore, want 100", got)
	}
}
