package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biosmarket/settlement/internal/domain/enums"
	"github.com/biosmarket/settlement/internal/domain/model"
	"github.com/biosmarket/settlement/internal/repo"
)

const purchaseColumns = `id, buyer_id, target_type, target_id, amount, payment_tx_ref, status, created_at, updated_at`

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

func (r *PurchaseRepo) CreatePending(ctx context.Context, in model.Purchase, now time.Time) (model.Purchase, error) {
	if r.pool == nil {
		return model.Purchase{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(in.BuyerID) == "" || strings.TrimSpace(in.TargetID) == "" || !in.TargetType.Valid() || in.Amount <= 0 {
		return model.Purchase{}, fmt.Errorf("invalid purchase create payload")
	}

	rec, err := scanPurchase(r.pool.QueryRow(ctx, `
INSERT INTO purchases (
	id,
	buyer_id,
	target_type,
	target_id,
	amount,
	status,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6)
RETURNING `+purchaseColumns, uuid.NewString(), in.BuyerID, string(in.TargetType), in.TargetID, in.Amount, now.UTC()))
	if err != nil {
		return model.Purchase{}, fmt.Errorf("create pending purchase: %w", err)
	}
	return rec, nil
}

func (r *PurchaseRepo) FindByID(ctx context.Context, id string) (model.Purchase, error) {
	if r.pool == nil {
		return model.Purchase{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanPurchase(r.pool.QueryRow(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE id = $1
LIMIT 1
`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Purchase{}, repo.ErrPurchaseNotFound
		}
		return model.Purchase{}, fmt.Errorf("find purchase by id: %w", err)
	}
	return rec, nil
}

func (r *PurchaseRepo) FindConfirmedByTxRef(ctx context.Context, txRef string) (model.Purchase, error) {
	if r.pool == nil {
		return model.Purchase{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanPurchase(r.pool.QueryRow(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE payment_tx_ref = $1
  AND status = 'confirmed'
LIMIT 1
`, strings.TrimSpace(txRef)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Purchase{}, repo.ErrPurchaseNotFound
		}
		return model.Purchase{}, fmt.Errorf("find purchase by tx ref: %w", err)
	}
	return rec, nil
}

// MarkConfirmed moves a pending purchase to confirmed and reads the
// distribution snapshot in the same transaction. changed is false when the
// purchase was already confirmed; only the changing caller may distribute.
func (r *PurchaseRepo) MarkConfirmed(ctx context.Context, id, txRef string, now time.Time) (model.Purchase, model.DistributionSnapshot, bool, error) {
	if r.pool == nil {
		return model.Purchase{}, model.DistributionSnapshot{}, false, fmt.Errorf("postgres pool is nil")
	}
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return model.Purchase{}, model.DistributionSnapshot{}, false, fmt.Errorf("invalid confirm payload")
	}

	var (
		out      model.Purchase
		snapshot model.DistributionSnapshot
		changed  bool
	)
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := lockPurchaseTx(txCtx, tx, id)
		if err != nil {
			return err
		}

		switch rec.Status {
		case enums.PurchaseStatusConfirmed:
			out = rec
			return nil
		case enums.PurchaseStatusFailed:
			out = rec
			return repo.ErrPurchaseNotPending
		}

		updated, err := scanPurchase(tx.QueryRow(txCtx, `
UPDATE purchases
SET
	payment_tx_ref = $2,
	status = 'confirmed',
	updated_at = $3
WHERE id = $1
  AND status = 'pending'
RETURNING `+purchaseColumns, id, txRef, now.UTC()))
		if err != nil {
			if isUniqueViolation(err) {
				return repo.ErrTxRefInUse
			}
			return fmt.Errorf("mark purchase confirmed: %w", err)
		}

		snap, err := readSnapshotTx(txCtx, tx, updated.TargetType, updated.TargetID)
		if err != nil {
			return err
		}

		out = updated
		snapshot = snap
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrPurchaseNotPending) {
			return out, model.DistributionSnapshot{}, false, err
		}
		return model.Purchase{}, model.DistributionSnapshot{}, false, err
	}

	return out, snapshot, changed, nil
}

func (r *PurchaseRepo) MarkFailed(ctx context.Context, id, txRef string, now time.Time) (model.Purchase, bool, error) {
	if r.pool == nil {
		return model.Purchase{}, false, fmt.Errorf("postgres pool is nil")
	}

	updated, err := scanPurchase(r.pool.QueryRow(ctx, `
UPDATE purchases
SET
	payment_tx_ref = $2,
	status = 'failed',
	updated_at = $3
WHERE id = $1
  AND status = 'pending'
RETURNING `+purchaseColumns, id, strings.TrimSpace(txRef), now.UTC()))
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Purchase{}, false, fmt.Errorf("mark purchase failed: %w", err)
	}

	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return model.Purchase{}, false, err
	}
	return existing, false, nil
}

func (r *PurchaseRepo) ListByBuyer(ctx context.Context, buyerID string, status enums.PurchaseStatus, limit int) ([]model.Purchase, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE buyer_id = $1
  AND ($2::text = '' OR status = $2::text)
ORDER BY created_at DESC, id DESC
LIMIT $3
`, buyerID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases by buyer: %w", err)
	}
	defer rows.Close()

	out := make([]model.Purchase, 0)
	for rows.Next() {
		rec, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return out, nil
}

func lockPurchaseTx(ctx context.Context, tx pgx.Tx, id string) (model.Purchase, error) {
	rec, err := scanPurchase(tx.QueryRow(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE id = $1
FOR UPDATE
`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Purchase{}, repo.ErrPurchaseNotFound
		}
		return model.Purchase{}, fmt.Errorf("lock purchase: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (model.Purchase, error) {
	var (
		rec        model.Purchase
		targetType string
		status     string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.BuyerID,
		&targetType,
		&rec.TargetID,
		&rec.Amount,
		&rec.PaymentTxRef,
		&status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return model.Purchase{}, err
	}
	rec.TargetType = enums.TargetType(targetType)
	rec.Status = enums.PurchaseStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
