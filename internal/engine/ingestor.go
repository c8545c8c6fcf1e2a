// Package engine wires the share stream into the accounting components: the
// durable ledger, the PPLNS window accountant, the rate aggregator and the
// liveness monitor. It owns the sequencing that keeps share order stable for
// window eviction.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/poolstats/internal/database/postgres"
	"github.com/bardlex/poolstats/internal/liveness"
	"github.com/bardlex/poolstats/internal/pplns"
	"github.com/bardlex/poolstats/internal/rate"
	"github.com/bardlex/poolstats/pkg/errors"
	"github.com/bardlex/poolstats/pkg/log"
)

// Share is one submitted proof-of-work share entering the engine
type Share struct {
	ShareID     string
	User        string
	Worker      string
	DeviceIndex *int
	Difficulty  float64
	Accepted    bool
	Fence       uint64
	SubmittedAt time.Time
}

// Ledger is the durable, append-only share log
type Ledger interface {
	AppendShare(ctx context.Context, share *postgres.ShareRecord) error
}

// Ingestor validates incoming shares, appends them to the ledger and fans
// them out to the accounting components. Submissions are serialized so ledger
// order and window order always agree.
type Ingestor struct {
	mu         sync.Mutex
	logger     *log.Logger
	ledger     Ledger
	accountant *pplns.Accountant
	rates      *rate.Aggregator
	monitor    *liveness.Monitor

	maxClockSkew time.Duration
	now          func() time.Time

	lastLedgerID  int64
	lastSubmitted map[string]time.Time

	accepted atomic.Int64
	rejected atomic.Int64
	invalid  atomic.Int64
}

// NewIngestor creates an ingestor over the given components
func NewIngestor(ledger Ledger, accountant *pplns.Accountant, rates *rate.Aggregator, monitor *liveness.Monitor, maxClockSkew time.Duration, logger *log.Logger) *Ingestor {
	return &Ingestor{
		logger:        logger.WithComponent("ingestor"),
		ledger:        ledger,
		accountant:    accountant,
		rates:         rates,
		monitor:       monitor,
		maxClockSkew:  maxClockSkew,
		now:           time.Now,
		lastSubmitted: make(map[string]time.Time),
	}
}

func (in *Ingestor) validate(share *Share) error {
	if share.User == "" {
		return errors.New(errors.ErrorTypeValidation, "validate_share",
			"share has no user").WithContext("share_id", share.ShareID)
	}
	if share.Worker == "" {
		return errors.New(errors.ErrorTypeValidation, "validate_share",
			"share has no worker").WithContext("share_id", share.ShareID)
	}
	if share.Difficulty <= 0 {
		return errors.New(errors.ErrorTypeValidation, "validate_share",
			"share difficulty must be positive").
			WithContext("share_id", share.ShareID).
			WithContext("difficulty", share.Difficulty)
	}
	if share.SubmittedAt.After(in.now().Add(in.maxClockSkew)) {
		return errors.New(errors.ErrorTypeValidation, "validate_share",
			"share timestamp too far in the future").
			WithContext("share_id", share.ShareID).
			WithContext("submitted_at", share.SubmittedAt)
	}
	return nil
}

// Submit ingests one share and returns its ledger id. The ledger append is
// the critical step: if it fails the share is not counted anywhere and the
// error returns immediately. Rejected shares are ledgered and counted in
// rate/liveness state but never enter the PPLNS window.
func (in *Ingestor) Submit(ctx context.Context, share *Share) (int64, error) {
	if err := in.validate(share); err != nil {
		in.invalid.Add(1)
		return 0, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	// Timestamps must not run backwards per worker beyond the skew tolerance,
	// or bucket attribution and window order drift apart.
	workerKey := share.User + "/" + share.Worker
	if last, ok := in.lastSubmitted[workerKey]; ok && share.SubmittedAt.Before(last.Add(-in.maxClockSkew)) {
		in.invalid.Add(1)
		return 0, errors.New(errors.ErrorTypeValidation, "validate_share",
			"share timestamp regressed beyond tolerance").
			WithContext("share_id", share.ShareID).
			WithContext("submitted_at", share.SubmittedAt).
			WithContext("last_submitted_at", last)
	}

	record := &postgres.ShareRecord{
		ShareID:     share.ShareID,
		UserID:      share.User,
		WorkerName:  share.Worker,
		DeviceIndex: share.DeviceIndex,
		Difficulty:  share.Difficulty,
		Accepted:    share.Accepted,
		RoundID:     in.accountant.CurrentRound().ID,
		Fence:       int64(in.accountant.CurrentFence()),
		SubmittedAt: share.SubmittedAt,
	}
	if err := in.ledger.AppendShare(ctx, record); err != nil {
		return 0, err
	}
	if record.ID > in.lastLedgerID {
		in.lastLedgerID = record.ID
	}
	if share.SubmittedAt.After(in.lastSubmitted[workerKey]) {
		in.lastSubmitted[workerKey] = share.SubmittedAt
	}

	if err := in.accountant.Observe(share.User, share.Difficulty, share.Accepted, share.Fence); err != nil {
		// Fence conflicts are dropped from the window but stay in the
		// ledger and the rolling counters.
		if !errors.IsType(err, errors.ErrorTypeRound) {
			return record.ID, err
		}
	}

	in.rates.Record(share.User, share.Worker, share.Difficulty, share.Accepted, share.SubmittedAt)
	in.monitor.TouchShare(share.User, share.Worker, share.SubmittedAt)

	if share.Accepted {
		in.accepted.Add(1)
	} else {
		in.rejected.Add(1)
	}
	in.logger.LogShareIngested(share.User, share.Worker, share.Difficulty, share.Accepted, record.RoundID)

	return record.ID, nil
}

// Counters returns the running ingest totals
func (in *Ingestor) Counters() (accepted, rejected, invalid int64) {
	return in.accepted.Load(), in.rejected.Load(), in.invalid.Load()
}

// Checkpoint captures the ledger position together with the window and
// rolling-bucket state as one consistent cut: no share is half-applied.
func (in *Ingestor) Checkpoint() (ledgerID int64, window *pplns.Checkpoint, buckets *rate.Checkpoint) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastLedgerID, in.accountant.Checkpoint(), in.rates.Checkpoint()
}

// SetLedgerHead records the highest ledger id already applied. Used on
// restore, before live ingestion starts.
func (in *Ingestor) SetLedgerHead(id int64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if id > in.lastLedgerID {
		in.lastLedgerID = id
	}
}
