package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ShareRepository handles the durable share ledger
type ShareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new share repository
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// Append appends one share to the ledger
func (r *ShareRepository) Append(ctx context.Context, share *ShareRecord) error {
	query := `
		INSERT INTO shares (share_id, user_id, worker_name, device_index, difficulty,
		                   accepted, round_id, fence, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		share.ShareID, share.UserID, share.WorkerName, share.DeviceIndex,
		share.Difficulty, share.Accepted, share.RoundID, share.Fence, share.SubmittedAt,
	).Scan(&share.ID)

	if err != nil {
		return fmt.Errorf("failed to append share: %w", err)
	}

	return nil
}

// ReplaySince streams ledger rows after the given ledger id in append order,
// invoking fn per row. Used for crash recovery on top of a checkpoint.
func (r *ShareRepository) ReplaySince(ctx context.Context, afterID int64, fn func(*ShareRecord) error) error {
	query := `
		SELECT id, share_id, user_id, worker_name, device_index, difficulty,
		       accepted, round_id, fence, submitted_at
		FROM shares
		WHERE id > $1
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, afterID)
	if err != nil {
		return fmt.Errorf("failed to query share ledger: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		share := &ShareRecord{}
		err := rows.Scan(
			&share.ID, &share.ShareID, &share.UserID, &share.WorkerName,
			&share.DeviceIndex, &share.Difficulty, &share.Accepted,
			&share.RoundID, &share.Fence, &share.SubmittedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan share: %w", err)
		}
		if err := fn(share); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating share ledger: %w", err)
	}

	return nil
}

// MaxLedgerID returns the highest ledger id, 0 on an empty ledger
func (r *ShareRepository) MaxLedgerID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM shares`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger head: %w", err)
	}
	return id.Int64, nil
}

// DeleteOlderThan trims ledger rows submitted before the cutoff. Retention
// must cover the largest PPLNS window plus the 24h rolling metrics.
func (r *ShareRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM shares WHERE submitted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to trim share ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count trimmed shares: %w", err)
	}
	return n, nil
}

// RoundRepository handles round lifecycle rows
type RoundRepository struct {
	db *sql.DB
}

// NewRoundRepository creates a new round repository
func NewRoundRepository(db *sql.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// Open inserts a new open round
func (r *RoundRepository) Open(ctx context.Context, round *RoundRecord) error {
	query := `
		INSERT INTO rounds (id, status, fence, network_difficulty, started_at)
		VALUES ($1, 'open', $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query,
		round.ID, round.Fence, round.NetworkDifficulty, round.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to open round: %w", err)
	}
	round.Status = "open"
	return nil
}

// Close finalizes a round as solved or orphaned
func (r *RoundRepository) Close(ctx context.Context, round *RoundRecord) error {
	query := `
		UPDATE rounds
		SET status = $1, reward_sats = $2, block_hash = $3, block_height = $4, solved_at = $5
		WHERE id = $6 AND status = 'open'`

	res, err := r.db.ExecContext(ctx, query,
		round.Status, round.RewardSats, round.BlockHash, round.BlockHeight,
		round.SolvedAt, round.ID)
	if err != nil {
		return fmt.Errorf("failed to close round: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm round close: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("round %d is not open", round.ID)
	}
	return nil
}

// CurrentOpen returns the open round, sql.ErrNoRows wrapped if none
func (r *RoundRepository) CurrentOpen(ctx context.Context) (*RoundRecord, error) {
	query := `
		SELECT id, status, fence, network_difficulty, reward_sats, block_hash,
		       block_height, started_at, solved_at
		FROM rounds WHERE status = 'open'
		ORDER BY id DESC LIMIT 1`

	round := &RoundRecord{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&round.ID, &round.Status, &round.Fence, &round.NetworkDifficulty,
		&round.RewardSats, &round.BlockHash, &round.BlockHeight,
		&round.StartedAt, &round.SolvedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no open round")
		}
		return nil, fmt.Errorf("failed to get open round: %w", err)
	}
	return round, nil
}

// CheckpointRepository stores serialized engine state
type CheckpointRepository struct {
	db *sql.DB
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(db *sql.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Save upserts the latest checkpoint of a kind. Only the newest checkpoint
// per kind matters; older state is reachable by ledger replay.
func (r *CheckpointRepository) Save(ctx context.Context, cp *CheckpointRecord) error {
	query := `
		INSERT INTO checkpoints (kind, round_id, state, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind) DO UPDATE
		SET round_id = EXCLUDED.round_id, state = EXCLUDED.state, created_at = EXCLUDED.created_at`

	cp.CreatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, query, cp.Kind, cp.RoundID, cp.State, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the latest checkpoint of a kind, nil if none exists
func (r *CheckpointRepository) Load(ctx context.Context, kind string) (*CheckpointRecord, error) {
	query := `
		SELECT id, kind, round_id, state, created_at
		FROM checkpoints WHERE kind = $1`

	cp := &CheckpointRecord{}
	err := r.db.QueryRowContext(ctx, query, kind).Scan(
		&cp.ID, &cp.Kind, &cp.RoundID, &cp.State, &cp.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// SettingsRepository handles per-user settings the engine reads and writes
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// DonatePercent returns the user's donation percentage, ok=false if unset
func (r *SettingsRepository) DonatePercent(ctx context.Context, userID string) (float64, bool, error) {
	var pct sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT donate_percent FROM user_settings WHERE user_id = $1`, userID).Scan(&pct)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get donate percent: %w", err)
	}
	return pct.Float64, pct.Valid, nil
}

// SetDonatePercent upserts the user's donation percentage
func (r *SettingsRepository) SetDonatePercent(ctx context.Context, userID string, pct float64) error {
	query := `
		INSERT INTO user_settings (user_id, donate_percent, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET donate_percent = EXCLUDED.donate_percent, updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, userID, pct, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set donate percent: %w", err)
	}
	return nil
}

// TouchLastSeen updates the user's last seen timestamp
func (r *SettingsRepository) TouchLastSeen(ctx context.Context, userID string) error {
	query := `
		INSERT INTO user_settings (user_id, last_seen_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET last_seen_at = EXCLUDED.last_seen_at, updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to touch last seen: %w", err)
	}
	return nil
}

// BalanceRepository reads the account balance read-model. The payout pipeline
// writes these rows; the stats engine only reads them.
type BalanceRepository struct {
	db *sql.DB
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Balances returns the user's account totals, all zeros if no row exists yet
func (r *BalanceRepository) Balances(ctx context.Context, userID string) (*BalanceRow, error) {
	query := `
		SELECT user_id, confirmed_sats, unconfirmed_sats, total_earned_sats, total_paid_sats
		FROM balances WHERE user_id = $1`

	row := &BalanceRow{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&row.UserID, &row.ConfirmedSats, &row.UnconfirmedSats,
		&row.TotalEarnedSats, &row.TotalPaidSats,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return &BalanceRow{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	return row, nil
}
