package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/biosmarket/settlement/internal/domain/model"
	"github.com/biosmarket/settlement/internal/domain/rules"
	"github.com/biosmarket/settlement/internal/infra/metrics"
)

const (
	defaultGracePeriod = 15 * time.Minute
	defaultBatchLimit  = 200
)

type batchStore interface {
	ListStaleSettling(ctx context.Context, olderThan time.Time, limit int) ([]model.SettlingBatch, error)
	SettleBatch(ctx context.Context, recipientID string, batchStamp time.Time, txRef string, now time.Time) (int64, error)
	RevertBatch(ctx context.Context, recipientID string, batchStamp time.Time, now time.Time) (int64, error)
}

type transferLookup interface {
	LookupTransfer(ctx context.Context, reference string) (string, bool, error)
}

// Report summarises one pass.
type Report struct {
	Settled  int
	Reverted int
	Skipped  int
}

type Job struct {
	store   batchStore
	gateway transferLookup
	grace   time.Duration
	limit   int
	now     func() time.Time
	logger  *zap.Logger
}

func New(store batchStore, gateway transferLookup, grace time.Duration, logger *zap.Logger) *Job {
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		store:   store,
		gateway: gateway,
		grace:   grace,
		limit:   defaultBatchLimit,
		now:     time.Now,
		logger:  logger,
	}
}

// Run resolves settling batches older than the grace period against the
// gateway. A batch whose transfer exists is settled, one whose transfer is
// definitively absent is reverted, anything else waits for the next pass.
func (j *Job) Run(ctx context.Context) (Report, error) {
	now := j.now().UTC()
	batches, err := j.store.ListStaleSettling(ctx, now.Add(-j.grace), j.limit)
	if err != nil {
		return Report{}, fmt.Errorf("list stale settling batches: %w", err)
	}

	var report Report
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		log := j.logger.With(
			zap.String("recipient_id", batch.RecipientID),
			zap.Time("batch_stamp", batch.BatchStamp),
			zap.Int64("amount", batch.Amount),
			zap.Int("entries", batch.Entries),
		)

		reference := rules.WithdrawalReference(batch.RecipientID, batch.BatchStamp)
		txRef, found, err := j.gateway.LookupTransfer(ctx, reference)
		if err != nil {
			log.Warn("transfer lookup failed, batch left settling", zap.Error(err))
			metrics.ReconciledBatches.WithLabelValues("skipped").Inc()
			report.Skipped++
			continue
		}

		if found {
			rows, err := j.store.SettleBatch(ctx, batch.RecipientID, batch.BatchStamp, txRef, now)
			if err != nil {
				return report, fmt.Errorf("settle stale batch: %w", err)
			}
			log.Info("stale batch settled from gateway record", zap.String("tx_ref", txRef), zap.Int64("rows", rows))
			metrics.ReconciledBatches.WithLabelValues("settled").Inc()
			report.Settled++
			continue
		}

		rows, err := j.store.RevertBatch(ctx, batch.RecipientID, batch.BatchStamp, now)
		if err != nil {
			return report, fmt.Errorf("revert stale batch: %w", err)
		}
		log.Warn("stale batch reverted to claimable", zap.Int64("rows", rows))
		metrics.ReconciledBatches.WithLabelValues("reverted").Inc()
		report.Reverted++
	}

	if len(batches) > 0 {
		j.logger.Info("reconcile pass completed",
			zap.Int("settled", report.Settled),
			zap.Int("reverted", report.Reverted),
			zap.Int("skipped", report.Skipped),
		)
	}
	return report, nil
}

// Loop runs the job every interval until ctx is done.
func (j *Job) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			j.logger.Error("reconcile pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
