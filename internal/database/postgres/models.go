package postgres

import (
	"time"
)

// ShareRecord is one row of the durable share ledger. Rows are append-only
// and time-ordered per round; replay order is (round_id, id).
type ShareRecord struct {
	ID          int64     `db:"id"`
	ShareID     string    `db:"share_id"`
	UserID      string    `db:"user_id"`
	WorkerName  string    `db:"worker_name"`
	DeviceIndex *int      `db:"device_index"`
	Difficulty  float64   `db:"difficulty"`
	Accepted    bool      `db:"accepted"`
	RoundID     int64     `db:"round_id"`
	Fence       int64     `db:"fence"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// RoundRecord is one block-finding period
type RoundRecord struct {
	ID                int64      `db:"id"`
	Status            string     `db:"status"` // open, solved, orphaned
	Fence             int64      `db:"fence"`
	NetworkDifficulty float64    `db:"network_difficulty"`
	RewardSats        int64      `db:"reward_sats"`
	BlockHash         *string    `db:"block_hash"`
	BlockHeight       *int64     `db:"block_height"`
	StartedAt         time.Time  `db:"started_at"`
	SolvedAt          *time.Time `db:"solved_at"`
}

// CheckpointRecord holds serialized engine state for crash recovery. Kind
// distinguishes the window checkpoint from the rolling-bucket checkpoint.
type CheckpointRecord struct {
	ID        int64     `db:"id"`
	Kind      string    `db:"kind"` // pplns_window, rate_buckets
	RoundID   int64     `db:"round_id"`
	State     []byte    `db:"state"`
	CreatedAt time.Time `db:"created_at"`
}

// UserSettings holds the per-user mutable settings the engine reads
type UserSettings struct {
	UserID        string     `db:"user_id"`
	DonatePercent *float64   `db:"donate_percent"` // nil means pool default
	UpdatedAt     time.Time  `db:"updated_at"`
	LastSeenAt    *time.Time `db:"last_seen_at"`
}

// BalanceRow is the read-model of a user's account totals, maintained by the
// payout pipeline outside this engine and only read here.
type BalanceRow struct {
	UserID          string `db:"user_id"`
	ConfirmedSats   int64  `db:"confirmed_sats"`
	UnconfirmedSats int64  `db:"unconfirmed_sats"`
	TotalEarnedSats int64  `db:"total_earned_sats"`
	TotalPaidSats   int64  `db:"total_paid_sats"`
}
