package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biosmarket/settlement/internal/domain/enums"
	"github.com/biosmarket/settlement/internal/domain/model"
	"github.com/biosmarket/settlement/internal/domain/rules"
	"github.com/biosmarket/settlement/internal/repo"
)

const revenueEntryColumns = `id, purchase_id, recipient_id, amount, payment_tx_ref, status, withdrawal_batch_stamp, created_at, updated_at`

type RevenueRepo struct {
	pool *pgxpool.Pool
}

func NewRevenueRepo(pool *pgxpool.Pool) *RevenueRepo {
	return &RevenueRepo{pool: pool}
}

func (r *RevenueRepo) InsertEntries(ctx context.Context, purchaseID string, shares []rules.Share, now time.Time) ([]model.RevenueEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	out := make([]model.RevenueEntry, 0, len(shares))
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		// Serialises concurrent inserts for the same purchase so the
		// existence check below cannot race.
		if _, err := tx.Exec(txCtx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "entries:"+purchaseID); err != nil {
			return fmt.Errorf("lock purchase entries: %w", err)
		}

		var exists bool
		if err := tx.QueryRow(txCtx, `
SELECT EXISTS (
	SELECT 1 FROM revenue_entries WHERE purchase_id = $1
)
`, purchaseID).Scan(&exists); err != nil {
			return fmt.Errorf("check existing entries: %w", err)
		}
		if exists {
			return repo.ErrEntriesExist
		}

		for _, share := range shares {
			entry, err := scanRevenueEntry(tx.QueryRow(txCtx, `
INSERT INTO revenue_entries (
	id,
	purchase_id,
	recipient_id,
	amount,
	status,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, 'claimable', $5, $5)
RETURNING `+revenueEntryColumns, uuid.NewString(), purchaseID, share.RecipientID, share.Amount, now.UTC()))
			if err != nil {
				return fmt.Errorf("insert revenue entry: %w", err)
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RevenueRepo) ClaimableBalance(ctx context.Context, recipientID string) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0)::BIGINT
FROM revenue_entries
WHERE recipient_id = $1
  AND status = 'claimable'
`, recipientID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum claimable balance: %w", err)
	}
	return total, nil
}

func (r *RevenueRepo) Summary(ctx context.Context, recipientID string) (model.EarningsSummary, error) {
	if r.pool == nil {
		return model.EarningsSummary{}, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT status, COALESCE(SUM(amount), 0)::BIGINT, COUNT(*)
FROM revenue_entries
WHERE recipient_id = $1
GROUP BY status
`, recipientID)
	if err != nil {
		return model.EarningsSummary{}, fmt.Errorf("summarise earnings: %w", err)
	}
	defer rows.Close()

	var out model.EarningsSummary
	for rows.Next() {
		var (
			status string
			amount int64
			count  int
		)
		if err := rows.Scan(&status, &amount, &count); err != nil {
			return model.EarningsSummary{}, fmt.Errorf("scan earnings row: %w", err)
		}
		out.Entries += count
		switch enums.RevenueStatus(status) {
		case enums.RevenueStatusClaimable:
			out.Available = amount
		case enums.RevenueStatusSettling:
			out.Settling = amount
		case enums.RevenueStatusSettled:
			out.Settled = amount
		case enums.RevenueStatusFailed:
			out.Failed = amount
		}
	}
	if err := rows.Err(); err != nil {
		return model.EarningsSummary{}, fmt.Errorf("iterate earnings rows: %w", err)
	}
	return out, nil
}

func (r *RevenueRepo) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]model.RevenueEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+revenueEntryColumns+`
FROM revenue_entries
WHERE recipient_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list revenue entries: %w", err)
	}
	defer rows.Close()

	out := make([]model.RevenueEntry, 0)
	for rows.Next() {
		entry, err := scanRevenueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revenue entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revenue entries: %w", err)
	}
	return out, nil
}

// ClaimForWithdrawal is the atomic claim phase of a withdrawal: it locks every
// claimable entry of the recipient, checks the daily batch limit and moves the
// entries to settling under batchStamp. No row lock outlives this call.
func (r *RevenueRepo) ClaimForWithdrawal(ctx context.Context, recipientID string, batchStamp, dayStart time.Time, dailyLimit int) (model.WithdrawalClaim, error) {
	if r.pool == nil {
		return model.WithdrawalClaim{}, fmt.Errorf("postgres pool is nil")
	}

	claim := model.WithdrawalClaim{RecipientID: recipientID, BatchStamp: batchStamp.UTC()}
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(txCtx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "withdraw:"+recipientID); err != nil {
			return fmt.Errorf("lock recipient withdrawals: %w", err)
		}

		rows, err := tx.Query(txCtx, `
SELECT id, amount
FROM revenue_entries
WHERE recipient_id = $1
  AND status = 'claimable'
ORDER BY created_at ASC, id ASC
FOR UPDATE
`, recipientID)
		if err != nil {
			return fmt.Errorf("lock claimable entries: %w", err)
		}
		for rows.Next() {
			var (
				id     string
				amount int64
			)
			if err := rows.Scan(&id, &amount); err != nil {
				rows.Close()
				return fmt.Errorf("scan claimable entry: %w", err)
			}
			claim.EntryIDs = append(claim.EntryIDs, id)
			claim.Amount += amount
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate claimable entries: %w", err)
		}

		if len(claim.EntryIDs) == 0 {
			return repo.ErrNothingClaimable
		}
		if claim.Amount <= 0 {
			return repo.ErrNonPositiveBalance
		}

		if dailyLimit > 0 {
			var batches int
			if err := tx.QueryRow(txCtx, `
SELECT COUNT(DISTINCT withdrawal_batch_stamp)
FROM revenue_entries
WHERE recipient_id = $1
  AND withdrawal_batch_stamp >= $2
`, recipientID, dayStart.UTC()).Scan(&batches); err != nil {
				return fmt.Errorf("count withdrawal batches: %w", err)
			}
			if batches >= dailyLimit {
				return repo.ErrBatchLimitReached
			}
		}

		if _, err := tx.Exec(txCtx, `
UPDATE revenue_entries
SET
	status = 'settling',
	withdrawal_batch_stamp = $2,
	updated_at = $2
WHERE id = ANY($1)
  AND status = 'claimable'
`, claim.EntryIDs, claim.BatchStamp); err != nil {
			return fmt.Errorf("mark entries settling: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.WithdrawalClaim{}, err
	}
	return claim, nil
}

func (r *RevenueRepo) SettleBatch(ctx context.Context, recipientID string, batchStamp time.Time, txRef string, now time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE revenue_entries
SET
	status = 'settled',
	payment_tx_ref = $3,
	updated_at = $4
WHERE recipient_id = $1
  AND withdrawal_batch_stamp = $2
  AND status = 'settling'
`, recipientID, batchStamp.UTC(), txRef, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("settle withdrawal batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RevenueRepo) RevertBatch(ctx context.Context, recipientID string, batchStamp time.Time, now time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE revenue_entries
SET
	status = 'claimable',
	withdrawal_batch_stamp = NULL,
	updated_at = $3
WHERE recipient_id = $1
  AND withdrawal_batch_stamp = $2
  AND status = 'settling'
`, recipientID, batchStamp.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("revert withdrawal batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RevenueRepo) ListStaleSettling(ctx context.Context, olderThan time.Time, limit int) ([]model.SettlingBatch, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT
	recipient_id,
	withdrawal_batch_stamp,
	COALESCE(SUM(amount), 0)::BIGINT,
	COUNT(*),
	MAX(payment_tx_ref)
FROM revenue_entries
WHERE status = 'settling'
  AND withdrawal_batch_stamp < $1
GROUP BY recipient_id, withdrawal_batch_stamp
ORDER BY withdrawal_batch_stamp ASC, recipient_id ASC
LIMIT $2
`, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale settling batches: %w", err)
	}
	defer rows.Close()

	out := make([]model.SettlingBatch, 0)
	for rows.Next() {
		var b model.SettlingBatch
		if err := rows.Scan(&b.RecipientID, &b.BatchStamp, &b.Amount, &b.Entries, &b.PaymentTxRef); err != nil {
			return nil, fmt.Errorf("scan settling batch: %w", err)
		}
		b.BatchStamp = b.BatchStamp.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settling batches: %w", err)
	}
	return out, nil
}

func scanRevenueEntry(row rowScanner) (model.RevenueEntry, error) {
	var (
		e      model.RevenueEntry
		status string
	)
	if err := row.Scan(
		&e.ID,
		&e.PurchaseID,
		&e.RecipientID,
		&e.Amount,
		&e.PaymentTxRef,
		&status,
		&e.WithdrawalBatchStamp,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return model.RevenueEntry{}, err
	}
	e.Status = enums.RevenueStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if e.WithdrawalBatchStamp != nil {
		stamp := e.WithdrawalBatchStamp.UTC()
		e.WithdrawalBatchStamp = &stamp
	}
	return e, nil
}
