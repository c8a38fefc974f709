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

// CatalogRepo reads listings, datasets and wallets, and owns dataset
// membership writes. Listing and dataset CRUD lives outside this service.
type CatalogRepo struct {
	pool *pgxpool.Pool
}

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

func (r *CatalogRepo) GetListing(ctx context.Context, id string) (model.Listing, error) {
	if r.pool == nil {
		return model.Listing{}, fmt.Errorf("postgres pool is nil")
	}

	var (
		listing model.Listing
		status  string
	)
	err := r.pool.QueryRow(ctx, `
SELECT id, owner_id, title, price_amount, status
FROM listings
WHERE id = $1
LIMIT 1
`, id).Scan(&listing.ID, &listing.OwnerID, &listing.Title, &listing.PriceAmount, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Listing{}, repo.ErrListingNotFound
		}
		return model.Listing{}, fmt.Errorf("get listing: %w", err)
	}
	listing.Status = enums.ListingStatus(status)
	return listing, nil
}

func (r *CatalogRepo) GetDataset(ctx context.Context, id string) (model.Dataset, error) {
	if r.pool == nil {
		return model.Dataset{}, fmt.Errorf("postgres pool is nil")
	}

	dataset, err := scanDataset(r.pool.QueryRow(ctx, `
SELECT id, creator_id, title, price_amount, status, total_contributions
FROM datasets
WHERE id = $1
LIMIT 1
`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Dataset{}, repo.ErrDatasetNotFound
		}
		return model.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return dataset, nil
}

// CountActiveContributions counts membership rows rather than trusting the
// cached total_contributions column.
func (r *CatalogRepo) CountActiveContributions(ctx context.Context, datasetID string) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	if _, err := r.GetDataset(ctx, datasetID); err != nil {
		return 0, err
	}

	var n int
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM dataset_contributions
WHERE dataset_id = $1
  AND status = 'active'
`, datasetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active contributions: %w", err)
	}
	return n, nil
}

func (r *CatalogRepo) WalletAddress(ctx context.Context, userID string) (string, error) {
	if r.pool == nil {
		return "", fmt.Errorf("postgres pool is nil")
	}

	var address *string
	err := r.pool.QueryRow(ctx, `
SELECT wallet_address
FROM users
WHERE id = $1
LIMIT 1
`, userID).Scan(&address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", repo.ErrUserNotFound
		}
		return "", fmt.Errorf("get wallet address: %w", err)
	}
	if address == nil || strings.TrimSpace(*address) == "" {
		return "", repo.ErrUserNotFound
	}
	return *address, nil
}

func (r *CatalogRepo) Contribute(ctx context.Context, datasetID, contributorID, listingID string, now time.Time) (model.Contribution, bool, error) {
	if r.pool == nil {
		return model.Contribution{}, false, fmt.Errorf("postgres pool is nil")
	}

	var (
		out         model.Contribution
		reactivated bool
	)
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		dataset, err := lockDatasetTx(txCtx, tx, datasetID, "FOR UPDATE")
		if err != nil {
			return err
		}
		if dataset.Status != enums.DatasetStatusOpen {
			return repo.ErrDatasetClosed
		}

		var ownerID string
		if err := tx.QueryRow(txCtx, `SELECT owner_id FROM listings WHERE id = $1`, listingID).Scan(&ownerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repo.ErrListingNotFound
			}
			return fmt.Errorf("get contributed listing: %w", err)
		}
		if ownerID != contributorID {
			return repo.ErrListingNotOwned
		}

		existing, err := scanContribution(tx.QueryRow(txCtx, `
SELECT `+contributionColumns+`
FROM dataset_contributions
WHERE dataset_id = $1
  AND listing_id = $2
FOR UPDATE
`, datasetID, listingID))
		switch {
		case err == nil && existing.Status == enums.ContributionStatusActive:
			return repo.ErrContributionExists
		case err == nil:
			out, err = scanContribution(tx.QueryRow(txCtx, `
UPDATE dataset_contributions
SET
	status = 'active',
	contributor_id = $2,
	joined_at = $3,
	revoked_at = NULL
WHERE id = $1
RETURNING `+contributionColumns, existing.ID, contributorID, now.UTC()))
			if err != nil {
				return fmt.Errorf("reactivate contribution: %w", err)
			}
			reactivated = true
		case errors.Is(err, pgx.ErrNoRows):
			out, err = scanContribution(tx.QueryRow(txCtx, `
INSERT INTO dataset_contributions (
	id,
	dataset_id,
	contributor_id,
	listing_id,
	status,
	joined_at
) VALUES ($1, $2, $3, $4, 'active', $5)
RETURNING `+contributionColumns, uuid.NewString(), datasetID, contributorID, listingID, now.UTC()))
			if err != nil {
				if isUniqueViolation(err) {
					return repo.ErrContributionExists
				}
				return fmt.Errorf("insert contribution: %w", err)
			}
		default:
			return fmt.Errorf("lock contribution: %w", err)
		}

		if _, err := tx.Exec(txCtx, `
UPDATE datasets
SET total_contributions = total_contributions + 1
WHERE id = $1
`, datasetID); err != nil {
			return fmt.Errorf("increment total contributions: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Contribution{}, false, err
	}
	return out, reactivated, nil
}

func (r *CatalogRepo) Revoke(ctx context.Context, datasetID, contributorID, listingID string, now time.Time) (model.Contribution, error) {
	if r.pool == nil {
		return model.Contribution{}, fmt.Errorf("postgres pool is nil")
	}

	var out model.Contribution
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		if _, err := lockDatasetTx(txCtx, tx, datasetID, "FOR UPDATE"); err != nil {
			return err
		}

		var err error
		out, err = scanContribution(tx.QueryRow(txCtx, `
UPDATE dataset_contributions
SET
	status = 'revoked',
	revoked_at = $4
WHERE dataset_id = $1
  AND listing_id = $2
  AND contributor_id = $3
  AND status = 'active'
RETURNING `+contributionColumns, datasetID, listingID, contributorID, now.UTC()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repo.ErrContributionNotFound
			}
			return fmt.Errorf("revoke contribution: %w", err)
		}

		if _, err := tx.Exec(txCtx, `
UPDATE datasets
SET total_contributions = GREATEST(total_contributions - 1, 0)
WHERE id = $1
`, datasetID); err != nil {
			return fmt.Errorf("decrement total contributions: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Contribution{}, err
	}
	return out, nil
}

// readSnapshotTx reads who is paid for a purchase. For datasets the dataset
// row is share-locked so a concurrent contribute or revoke cannot interleave.
func readSnapshotTx(ctx context.Context, tx pgx.Tx, targetType enums.TargetType, targetID string) (model.DistributionSnapshot, error) {
	snapshot := model.DistributionSnapshot{TargetType: targetType}

	switch targetType {
	case enums.TargetTypeListing:
		if err := tx.QueryRow(ctx, `SELECT owner_id FROM listings WHERE id = $1`, targetID).Scan(&snapshot.Owner); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.DistributionSnapshot{}, repo.ErrListingNotFound
			}
			return model.DistributionSnapshot{}, fmt.Errorf("read listing owner: %w", err)
		}
		return snapshot, nil
	case enums.TargetTypeDataset:
	default:
		return model.DistributionSnapshot{}, fmt.Errorf("unknown target type %q", targetType)
	}

	if _, err := lockDatasetTx(ctx, tx, targetID, "FOR SHARE"); err != nil {
		return model.DistributionSnapshot{}, err
	}

	rows, err := tx.Query(ctx, `
SELECT id, contributor_id, joined_at
FROM dataset_contributions
WHERE dataset_id = $1
  AND status = 'active'
ORDER BY joined_at ASC, id ASC
`, targetID)
	if err != nil {
		return model.DistributionSnapshot{}, fmt.Errorf("read active contributors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.Recipient
		if err := rows.Scan(&rec.ContributionID, &rec.RecipientID, &rec.JoinedAt); err != nil {
			return model.DistributionSnapshot{}, fmt.Errorf("scan contributor: %w", err)
		}
		snapshot.Recipients = append(snapshot.Recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return model.DistributionSnapshot{}, fmt.Errorf("iterate contributors: %w", err)
	}
	return snapshot, nil
}

func lockDatasetTx(ctx context.Context, tx pgx.Tx, id, lock string) (model.Dataset, error) {
	dataset, err := scanDataset(tx.QueryRow(ctx, `
SELECT id, creator_id, title, price_amount, status, total_contributions
FROM datasets
WHERE id = $1
`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Dataset{}, repo.ErrDatasetNotFound
		}
		return model.Dataset{}, fmt.Errorf("lock dataset: %w", err)
	}
	return dataset, nil
}

const contributionColumns = `id, dataset_id, contributor_id, listing_id, status, joined_at, revoked_at`

func scanContribution(row rowScanner) (model.Contribution, error) {
	var (
		c      model.Contribution
		status string
	)
	if err := row.Scan(&c.ID, &c.DatasetID, &c.ContributorID, &c.ListingID, &status, &c.JoinedAt, &c.RevokedAt); err != nil {
		return model.Contribution{}, err
	}
	c.Status = enums.ContributionStatus(status)
	c.JoinedAt = c.JoinedAt.UTC()
	return c, nil
}

func scanDataset(row rowScanner) (model.Dataset, error) {
	var (
		d      model.Dataset
		status string
	)
	if err := row.Scan(&d.ID, &d.CreatorID, &d.Title, &d.PriceAmount, &status, &d.TotalContributions); err != nil {
		return model.Dataset{}, err
	}
	d.Status = enums.DatasetStatus(status)
	return d, nil
}
