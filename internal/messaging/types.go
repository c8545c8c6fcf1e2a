package messaging

import "time"

// ShareMessage represents one submitted proof-of-work share on the stats bus.
// Shares are immutable once published.
type ShareMessage struct {
	ShareID     string    `json:"share_id"`
	UserID      string    `json:"user_id"`
	WorkerName  string    `json:"worker_name"`
	DeviceIndex *int      `json:"device_index,omitempty"`
	Difficulty  float64   `json:"difficulty"`
	Accepted    bool      `json:"accepted"`
	RoundFence  uint64    `json:"round_fence"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// DeviceReport carries one device's self-reported metrics. Agents differ in
// what they send, so the payload is an open map decoded as-is.
type DeviceReport map[string]any

// StatusReportMessage represents a periodic push from a mining-rig agent
type StatusReportMessage struct {
	UserID     string         `json:"user_id"`
	WorkerName string         `json:"worker_name"`
	Devices    []DeviceReport `json:"devices"`
	ReportedAt time.Time      `json:"reported_at"`
}

// Round event kinds published on the round-events topic
const (
	RoundEventSolved   = "solved"
	RoundEventOrphaned = "orphaned"
	RoundEventRetarget = "retarget"
)

// RoundEventMessage announces a round transition or a network retarget
type RoundEventMessage struct {
	Event             string    `json:"event"`
	RoundID           int64     `json:"round_id"`
	Fence             uint64    `json:"fence"`
	RewardSats        int64     `json:"reward_sats,omitempty"`
	NetworkDifficulty float64   `json:"network_difficulty,omitempty"`
	BlockHash         string    `json:"block_hash,omitempty"`
	BlockHeight       int64     `json:"block_height,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// SnapshotMessage carries a per-user stats snapshot for downstream caches
type SnapshotMessage struct {
	UserID        string    `json:"user_id"`
	RoundShares   float64   `json:"round_shares"`
	WindowShares  float64   `json:"window_shares"`
	HashrateMHS   float64   `json:"hashrate_mhs"`
	EstimatedSats int64     `json:"estimated_sats"`
	DailyRateSats int64     `json:"daily_rate_sats"`
	GeneratedAt   time.Time `json:"generated_at"`
}
