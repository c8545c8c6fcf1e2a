package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/bardlex/poolstats/internal/chain"
	"github.com/bardlex/poolstats/internal/config"
	"github.com/bardlex/poolstats/internal/database"
	"github.com/bardlex/poolstats/internal/database/postgres"
	"github.com/bardlex/poolstats/internal/liveness"
	"github.com/bardlex/poolstats/internal/messaging"
	"github.com/bardlex/poolstats/internal/pplns"
	"github.com/bardlex/poolstats/internal/rate"
	"github.com/bardlex/poolstats/pkg/log"
)

// checkpointKind is the database key for the engine's combined checkpoint
const checkpointKind = "engine_state"

// engineCheckpoint bundles everything needed to resume after a crash: the
// window state, the rolling buckets, and the ledger position to replay from.
type engineCheckpoint struct {
	LedgerID int64             `json:"ledger_id"`
	Window   *pplns.Checkpoint `json:"window"`
	Buckets  *rate.Checkpoint  `json:"buckets"`
}

// Service is the long-running stats engine: it consumes the share, status and
// round-event streams, keeps the accounting components current, and
// checkpoints its state periodically.
type Service struct {
	cfg    *config.Config
	logger *log.Logger
	kafka  *messaging.KafkaClient
	db     *database.Manager

	Ingestor    *Ingestor
	Accountant  *pplns.Accountant
	Rates       *rate.Aggregator
	Monitor     *liveness.Monitor
	DiffTracker *chain.DifficultyTracker

	ingest chan ingestRequest
	done   chan struct{}
}

// ingestRequest carries one share through the sequencer, with a reply channel
// so the Kafka handler acks only after the durable append settled.
type ingestRequest struct {
	share *Share
	reply chan error
}

// NewService assembles the engine from configuration
func NewService(cfg *config.Config, db *database.Manager, kafka *messaging.KafkaClient, logger *log.Logger) *Service {
	accountant := pplns.NewAccountant(&pplns.Config{
		SharesPerDiff: cfg.SharesPerDiff,
		WindowFactor:  cfg.PPLNSWindowFactor,
	}, logger)

	rates := rate.NewAggregator(&rate.Config{
		HashesPerDiff: cfg.HashesPerDiff,
		Retention:     cfg.BucketRetention,
		WUECritical:   cfg.WUECritical,
		WUEWarning:    cfg.WUEWarning,
	}, logger)

	monitor := liveness.NewMonitor(&liveness.Config{
		OnlineTimeout: cfg.OnlineTimeout,
		StaleTimeout:  cfg.StaleTimeout,
	}, logger)

	svc := &Service{
		cfg:         cfg,
		logger:      logger.WithComponent("engine"),
		kafka:       kafka,
		db:          db,
		Accountant:  accountant,
		Rates:       rates,
		Monitor:     monitor,
		DiffTracker: chain.NewDifficultyTracker(cfg.DiffAvgBlocks, cfg.SharesPerDiff),
		ingest:      make(chan ingestRequest, cfg.IngestQueueSize),
		done:        make(chan struct{}),
	}
	svc.Ingestor = NewIngestor(db, accountant, rates, monitor, cfg.MaxClockSkew, logger)
	return svc
}

// Restore loads the latest checkpoint and replays the ledger rows written
// after it, yielding the same state as uninterrupted processing.
func (s *Service) Restore(ctx context.Context) error {
	record, err := s.db.Checkpoints.Load(ctx, checkpointKind)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	// Without a checkpoint the whole retained ledger is replayed
	var replayFrom int64
	if record != nil {
		var cp engineCheckpoint
		if err := json.Unmarshal(record.State, &cp); err != nil {
			return fmt.Errorf("decode checkpoint: %w", err)
		}

		if cp.Window != nil {
			s.Accountant = pplns.RestoreAccountant(cp.Window, &pplns.Config{
				SharesPerDiff: s.cfg.SharesPerDiff,
				WindowFactor:  s.cfg.PPLNSWindowFactor,
			}, s.logger)
			s.Ingestor.accountant = s.Accountant
		}
		if cp.Buckets != nil {
			s.Rates.Restore(cp.Buckets)
		}
		s.Ingestor.SetLedgerHead(cp.LedgerID)
		replayFrom = cp.LedgerID
	}

	if head, err := s.db.Shares.MaxLedgerID(ctx); err == nil && head > replayFrom {
		s.logger.Info("replaying share ledger", "from_id", replayFrom, "head_id", head)
	}

	var replayed int
	err = s.db.Shares.ReplaySince(ctx, replayFrom, func(rec *postgres.ShareRecord) error {
		s.applyLedgerRow(rec)
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay ledger: %w", err)
	}

	// Seed the difficulty inputs from the cached recent-block list so the
	// estimates are sane before the next block arrives.
	if avg, err := s.db.Redis.AverageDifficulty(ctx); err == nil && avg > 0 {
		s.DiffTracker.Observe(avg)
		s.Accountant.SetNetworkDifficulty(avg)
	}

	// Make sure the open round has a row
	if _, err := s.db.Rounds.CurrentOpen(ctx); err != nil {
		if err := s.openRoundRow(ctx); err != nil {
			s.logger.WithError(err).Warn("failed to insert open round row",
				"round_id", s.Accountant.CurrentRound().ID)
		}
	}

	s.logger.Info("restored from checkpoint",
		"checkpoint_ledger_id", replayFrom,
		"replayed_shares", replayed,
		"round_id", s.Accountant.CurrentRound().ID)
	return nil
}

// applyLedgerRow re-applies one persisted share to in-memory state only.
// Used during replay, where the ledger append already happened.
func (s *Service) applyLedgerRow(rec *postgres.ShareRecord) {
	if err := s.Accountant.Observe(rec.UserID, rec.Difficulty, rec.Accepted, uint64(rec.Fence)); err != nil {
		s.logger.Debug("replayed share not windowed", "share_id", rec.ShareID, "error", err)
	}
	s.Rates.Record(rec.UserID, rec.WorkerName, rec.Difficulty, rec.Accepted, rec.SubmittedAt)
	s.Monitor.TouchShare(rec.UserID, rec.WorkerName, rec.SubmittedAt)
	s.Ingestor.SetLedgerHead(rec.ID)
}

// Run starts the consumer loops, the share sequencer and the checkpoint
// ticker, blocking until the context is canceled. Share consumption is
// parallel across partitions; the sequencer keeps the ledger single-writer.
func (s *Service) Run(ctx context.Context) error {
	go s.sequenceShares(ctx)
	for i := 0; i < s.cfg.WorkerPoolSize; i++ {
		go s.consumeShares(ctx)
	}
	go s.consumeStatusReports(ctx)
	go s.consumeRoundEvents(ctx)
	go s.checkpointLoop(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// sequenceShares drains the ingest queue one share at a time, so ledger order
// and window order always agree no matter how many consumers feed the queue.
func (s *Service) sequenceShares(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case req := <-s.ingest:
			_, err := s.Ingestor.Submit(ctx, req.share)
			req.reply <- err
		}
	}
}

// Shutdown stops the service and writes a final checkpoint
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down engine")
	if err := s.checkpoint(ctx); err != nil {
		s.logger.WithError(err).Error("final checkpoint failed")
	}
	close(s.done)
	return nil
}

type shareHandler struct{ svc *Service }

func (h *shareHandler) HandleMessage(ctx context.Context, _ string, msg any) error {
	sm, ok := msg.(*messaging.ShareMessage)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	return h.svc.HandleShare(ctx, sm)
}

// HandleShare queues one share message for the sequencer and waits for the
// durable append to settle
func (s *Service) HandleShare(ctx context.Context, sm *messaging.ShareMessage) error {
	fence := sm.RoundFence
	if fence == 0 {
		// Frontends that do not track fencing submit for the open round
		fence = s.Accountant.CurrentFence()
	}

	req := ingestRequest{
		share: &Share{
			ShareID:     sm.ShareID,
			User:        sm.UserID,
			Worker:      sm.WorkerName,
			DeviceIndex: sm.DeviceIndex,
			Difficulty:  sm.Difficulty,
			Accepted:    sm.Accepted,
			Fence:       fence,
			SubmittedAt: sm.SubmittedAt,
		},
		reply: make(chan error, 1),
	}

	select {
	case s.ingest <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type statusHandler struct{ svc *Service }

func (h *statusHandler) HandleMessage(ctx context.Context, _ string, msg any) error {
	rm, ok := msg.(*messaging.StatusReportMessage)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	h.svc.HandleStatusReport(ctx, rm)
	return nil
}

// HandleStatusReport records a rig monitoring report. Reports are advisory:
// they never fail ingestion, and a report with zero devices is valid.
func (s *Service) HandleStatusReport(ctx context.Context, rm *messaging.StatusReportMessage) {
	devices := make([]liveness.DeviceStatus, len(rm.Devices))
	for i, d := range rm.Devices {
		devices[i] = liveness.DeviceStatus(d)
	}

	reportedAt := rm.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now()
	}

	s.Monitor.ReportStatus(&liveness.StatusReport{
		User:       rm.UserID,
		Worker:     rm.WorkerName,
		Devices:    devices,
		ReportedAt: reportedAt,
	})

	if err := s.db.Settings.TouchLastSeen(ctx, rm.UserID); err != nil {
		s.logger.WithError(err).Debug("failed to touch last seen", "user_id", rm.UserID)
	}

	// Device metrics are best effort
	for i, d := range devices {
		s.db.Influx.WriteDeviceMetric(rm.UserID, rm.WorkerName, i,
			d.Temperature(), float64(d.FanSpeed()), d.Hashrate())
	}
}

type roundEventHandler struct{ svc *Service }

func (h *roundEventHandler) HandleMessage(ctx context.Context, _ string, msg any) error {
	em, ok := msg.(*messaging.RoundEventMessage)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	return h.svc.HandleRoundEvent(ctx, em)
}

// HandleRoundEvent applies a round transition or retarget
func (s *Service) HandleRoundEvent(ctx context.Context, em *messaging.RoundEventMessage) error {
	occurredAt := em.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	switch em.Event {
	case messaging.RoundEventSolved:
		closed := s.Accountant.CurrentRound()
		snap := s.Accountant.Solve(btcutil.Amount(em.RewardSats), occurredAt)
		s.logger.WithRound(closed.ID, em.Fence).Info("round solved",
			"reward_sats", em.RewardSats,
			"window_shares", snap.TotalShares,
			"block_hash", em.BlockHash)

		round := &postgres.RoundRecord{
			ID:                closed.ID,
			Status:            "solved",
			NetworkDifficulty: s.DiffTracker.Current(),
			RewardSats:        em.RewardSats,
			SolvedAt:          &occurredAt,
		}
		if em.BlockHash != "" {
			round.BlockHash = &em.BlockHash
		}
		if em.BlockHeight != 0 {
			round.BlockHeight = &em.BlockHeight
		}
		if err := s.db.CloseRound(ctx, round, snap.TotalShares); err != nil {
			s.logger.WithError(err).Error("failed to persist solved round", "round_id", closed.ID)
		}
		return s.openRoundRow(ctx)

	case messaging.RoundEventOrphaned:
		closed := s.Accountant.CurrentRound()
		s.Accountant.Orphan(occurredAt)

		round := &postgres.RoundRecord{
			ID:                closed.ID,
			Status:            "orphaned",
			NetworkDifficulty: s.DiffTracker.Current(),
			SolvedAt:          &occurredAt,
		}
		if err := s.db.CloseRound(ctx, round, 0); err != nil {
			s.logger.WithError(err).Error("failed to persist orphaned round", "round_id", closed.ID)
		}
		return s.openRoundRow(ctx)

	case messaging.RoundEventRetarget:
		s.ApplyNetworkDifficulty(ctx, em.NetworkDifficulty)
		return nil

	default:
		return fmt.Errorf("unknown round event %q", em.Event)
	}
}

func (s *Service) openRoundRow(ctx context.Context) error {
	round := s.Accountant.CurrentRound()
	return s.db.Rounds.Open(ctx, &postgres.RoundRecord{
		ID:                round.ID,
		Fence:             int64(s.Accountant.CurrentFence()),
		NetworkDifficulty: s.DiffTracker.Current(),
		StartedAt:         round.StartedAt,
	})
}

// ApplyNetworkDifficulty feeds a new network difficulty into the window
// target, the rolling average and the Redis difficulty list.
func (s *Service) ApplyNetworkDifficulty(ctx context.Context, difficulty float64) {
	if difficulty <= 0 {
		return
	}
	s.DiffTracker.Observe(difficulty)
	s.Accountant.SetNetworkDifficulty(difficulty)
	if err := s.db.Redis.PushDifficulty(ctx, difficulty, int64(s.cfg.DiffAvgBlocks)); err != nil {
		s.logger.WithError(err).Warn("failed to push difficulty to cache")
	}
}

// HandleBlock is the chain watcher callback: every new block updates the
// difficulty inputs. Round transitions still come from the round-events topic,
// which knows whether the pool found the block.
func (s *Service) HandleBlock(ctx context.Context, block *chain.Block) error {
	s.ApplyNetworkDifficulty(ctx, block.Difficulty)
	return nil
}

func (s *Service) consumeShares(ctx context.Context) {
	err := s.kafka.StartJSONConsumer(ctx, messaging.TopicShares, s.cfg.KafkaGroupID,
		func() any { return &messaging.ShareMessage{} }, &shareHandler{svc: s})
	if err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Error("share consumer stopped")
	}
}

func (s *Service) consumeStatusReports(ctx context.Context) {
	err := s.kafka.StartJSONConsumer(ctx, messaging.TopicStatusReports, s.cfg.KafkaGroupID,
		func() any { return &messaging.StatusReportMessage{} }, &statusHandler{svc: s})
	if err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Error("status report consumer stopped")
	}
}

func (s *Service) consumeRoundEvents(ctx context.Context) {
	err := s.kafka.StartJSONConsumer(ctx, messaging.TopicRoundEvents, s.cfg.KafkaGroupID,
		func() any { return &messaging.RoundEventMessage{} }, &roundEventHandler{svc: s})
	if err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Error("round event consumer stopped")
	}
}

func (s *Service) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.checkpoint(ctx); err != nil {
				s.logger.WithError(err).Error("checkpoint failed")
			}
		}
	}
}

func (s *Service) checkpoint(ctx context.Context) error {
	start := time.Now()
	defer func() { s.logger.LogDuration("checkpoint", time.Since(start).Nanoseconds()) }()

	ledgerID, window, buckets := s.Ingestor.Checkpoint()
	cp := engineCheckpoint{
		LedgerID: ledgerID,
		Window:   window,
		Buckets:  buckets,
	}
	state, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return s.db.SaveCheckpoint(ctx, checkpointKind, window.RoundID, state)
}
