// Package memory is a process-local storage driver. One mutex serialises every
// operation, which gives the same observable atomicity as the row locks taken
// by the postgres driver.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/biosmarket/settlement/internal/domain/enums"
	"github.com/biosmarket/settlement/internal/domain/model"
	"github.com/biosmarket/settlement/internal/domain/rules"
	"github.com/biosmarket/settlement/internal/repo"
)

type Store struct {
	mu sync.Mutex

	users         map[string]model.User
	listings      map[string]model.Listing
	datasets      map[string]model.Dataset
	contributions map[string]*model.Contribution
	purchases     map[string]*model.Purchase
	entries       map[string]*model.RevenueEntry

	// insertion order, used for stable listings
	purchaseOrder []string
	entryOrder    []string
}

func New() *Store {
	return &Store{
		users:         make(map[string]model.User),
		listings:      make(map[string]model.Listing),
		datasets:      make(map[string]model.Dataset),
		contributions: make(map[string]*model.Contribution),
		purchases:     make(map[string]*model.Purchase),
		entries:       make(map[string]*model.RevenueEntry),
	}
}

func (s *Store) PutUser(user model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *Store) PutListing(listing model.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if listing.Status == "" {
		listing.Status = enums.ListingStatusActive
	}
	s.listings[listing.ID] = listing
}

// PutDataset stores the dataset. TotalContributions is recomputed from the
// active contributions already known to the store.
func (s *Store) PutDataset(dataset model.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dataset.Status == "" {
		dataset.Status = enums.DatasetStatusOpen
	}
	dataset.TotalContributions = s.countActiveLocked(dataset.ID)
	s.datasets[dataset.ID] = dataset
}

// Catalog.

func (s *Store) GetListing(_ context.Context, id string) (model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[id]
	if !ok {
		return model.Listing{}, repo.ErrListingNotFound
	}
	return listing, nil
}

func (s *Store) GetDataset(_ context.Context, id string) (model.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataset, ok := s.datasets[id]
	if !ok {
		return model.Dataset{}, repo.ErrDatasetNotFound
	}
	return dataset, nil
}

func (s *Store) CountActiveContributions(_ context.Context, datasetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[datasetID]; !ok {
		return 0, repo.ErrDatasetNotFound
	}
	return s.countActiveLocked(datasetID), nil
}

func (s *Store) WalletAddress(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok || strings.TrimSpace(user.WalletAddress) == "" {
		return "", repo.ErrUserNotFound
	}
	return user.WalletAddress, nil
}

func (s *Store) Contribute(_ context.Context, datasetID, contributorID, listingID string, now time.Time) (model.Contribution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataset, ok := s.datasets[datasetID]
	if !ok {
		return model.Contribution{}, false, repo.ErrDatasetNotFound
	}
	if dataset.Status != enums.DatasetStatusOpen {
		return model.Contribution{}, false, repo.ErrDatasetClosed
	}
	listing, ok := s.listings[listingID]
	if !ok {
		return model.Contribution{}, false, repo.ErrListingNotFound
	}
	if listing.OwnerID != contributorID {
		return model.Contribution{}, false, repo.ErrListingNotOwned
	}

	now = now.UTC()
	reactivated := false
	existing := s.findContributionLocked(datasetID, listingID)
	switch {
	case existing != nil && existing.Status == enums.ContributionStatusActive:
		return model.Contribution{}, false, repo.ErrContributionExists
	case existing != nil:
		existing.Status = enums.ContributionStatusActive
		existing.ContributorID = contributorID
		existing.JoinedAt = now
		existing.RevokedAt = nil
		reactivated = true
	default:
		existing = &model.Contribution{
			ID:            uuid.NewString(),
			DatasetID:     datasetID,
			ContributorID: contributorID,
			ListingID:     listingID,
			Status:        enums.ContributionStatusActive,
			JoinedAt:      now,
		}
		s.contributions[existing.ID] = existing
	}

	dataset.TotalContributions++
	s.datasets[datasetID] = dataset
	return *existing, reactivated, nil
}

func (s *Store) Revoke(_ context.Context, datasetID, contributorID, listingID string, now time.Time) (model.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataset, ok := s.datasets[datasetID]
	if !ok {
		return model.Contribution{}, repo.ErrDatasetNotFound
	}
	existing := s.findContributionLocked(datasetID, listingID)
	if existing == nil || existing.Status != enums.ContributionStatusActive || existing.ContributorID != contributorID {
		return model.Contribution{}, repo.ErrContributionNotFound
	}

	revokedAt := now.UTC()
	existing.Status = enums.ContributionStatusRevoked
	existing.RevokedAt = &revokedAt

	if dataset.TotalContributions > 0 {
		dataset.TotalContributions--
	}
	s.datasets[datasetID] = dataset
	return *existing, nil
}

func (s *Store) findContributionLocked(datasetID, listingID string) *model.Contribution {
	for _, c := range s.contributions {
		if c.DatasetID == datasetID && c.ListingID == listingID {
			return c
		}
	}
	return nil
}

func (s *Store) countActiveLocked(datasetID string) int {
	n := 0
	for _, c := range s.contributions {
		if c.DatasetID == datasetID && c.Status == enums.ContributionStatusActive {
			n++
		}
	}
	return n
}

func (s *Store) snapshotLocked(p *model.Purchase) (model.DistributionSnapshot, error) {
	snapshot := model.DistributionSnapshot{TargetType: p.TargetType}
	switch p.TargetType {
	case enums.TargetTypeListing:
		listing, ok := s.listings[p.TargetID]
		if !ok {
			return model.DistributionSnapshot{}, repo.ErrListingNotFound
		}
		snapshot.Owner = listing.OwnerID
	case enums.TargetTypeDataset:
		if _, ok := s.datasets[p.TargetID]; !ok {
			return model.DistributionSnapshot{}, repo.ErrDatasetNotFound
		}
		for _, c := range s.contributions {
			if c.DatasetID != p.TargetID || c.Status != enums.ContributionStatusActive {
				continue
			}
			snapshot.Recipients = append(snapshot.Recipients, model.Recipient{
				RecipientID:    c.ContributorID,
				ContributionID: c.ID,
				JoinedAt:       c.JoinedAt,
			})
		}
		sort.Slice(snapshot.Recipients, func(i, j int) bool {
			a, b := snapshot.Recipients[i], snapshot.Recipients[j]
			if !a.JoinedAt.Equal(b.JoinedAt) {
				return a.JoinedAt.Before(b.JoinedAt)
			}
			return a.ContributionID < b.ContributionID
		})
	}
	return snapshot, nil
}

// Purchases.

func (s *Store) CreatePending(_ context.Context, in model.Purchase, now time.Time) (model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	p := model.Purchase{
		ID:         uuid.NewString(),
		BuyerID:    in.BuyerID,
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		Amount:     in.Amount,
		Status:     enums.PurchaseStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.purchases[p.ID] = &p
	s.purchaseOrder = append(s.purchaseOrder, p.ID)
	return p, nil
}

func (s *Store) FindByID(_ context.Context, id string) (model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return model.Purchase{}, repo.ErrPurchaseNotFound
	}
	return clonePurchase(p), nil
}

func (s *Store) FindConfirmedByTxRef(_ context.Context, txRef string) (model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.confirmedByTxRefLocked(txRef); p != nil {
		return clonePurchase(p), nil
	}
	return model.Purchase{}, repo.ErrPurchaseNotFound
}

func (s *Store) confirmedByTxRefLocked(txRef string) *model.Purchase {
	for _, p := range s.purchases {
		if p.Status == enums.PurchaseStatusConfirmed && p.PaymentTxRef != nil && *p.PaymentTxRef == txRef {
			return p
		}
	}
	return nil
}

func (s *Store) MarkConfirmed(_ context.Context, id, txRef string, now time.Time) (model.Purchase, model.DistributionSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return model.Purchase{}, model.DistributionSnapshot{}, false, repo.ErrPurchaseNotFound
	}
	switch p.Status {
	case enums.PurchaseStatusConfirmed:
		return clonePurchase(p), model.DistributionSnapshot{}, false, nil
	case enums.PurchaseStatusFailed:
		return clonePurchase(p), model.DistributionSnapshot{}, false, repo.ErrPurchaseNotPending
	}
	if other := s.confirmedByTxRefLocked(txRef); other != nil && other.ID != id {
		return model.Purchase{}, model.DistributionSnapshot{}, false, repo.ErrTxRefInUse
	}

	snapshot, err := s.snapshotLocked(p)
	if err != nil {
		return model.Purchase{}, model.DistributionSnapshot{}, false, err
	}

	ref := txRef
	p.PaymentTxRef = &ref
	p.Status = enums.PurchaseStatusConfirmed
	p.UpdatedAt = now.UTC()
	return clonePurchase(p), snapshot, true, nil
}

func (s *Store) MarkFailed(_ context.Context, id, txRef string, now time.Time) (model.Purchase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[id]
	if !ok {
		return model.Purchase{}, false, repo.ErrPurchaseNotFound
	}
	if p.Status != enums.PurchaseStatusPending {
		return clonePurchase(p), false, nil
	}
	ref := txRef
	p.PaymentTxRef = &ref
	p.Status = enums.PurchaseStatusFailed
	p.UpdatedAt = now.UTC()
	return clonePurchase(p), true, nil
}

func (s *Store) ListByBuyer(_ context.Context, buyerID string, status enums.PurchaseStatus, limit int) ([]model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Purchase, 0)
	for i := len(s.purchaseOrder) - 1; i >= 0; i-- {
		p := s.purchases[s.purchaseOrder[i]]
		if p.BuyerID != buyerID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, clonePurchase(p))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Revenue entries.

func (s *Store) InsertEntries(_ context.Context, purchaseID string, shares []rules.Share, now time.Time) ([]model.RevenueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.PurchaseID == purchaseID {
			return nil, repo.ErrEntriesExist
		}
	}

	now = now.UTC()
	out := make([]model.RevenueEntry, 0, len(shares))
	for _, share := range shares {
		e := &model.RevenueEntry{
			ID:          uuid.NewString(),
			PurchaseID:  purchaseID,
			RecipientID: share.RecipientID,
			Amount:      share.Amount,
			Status:      enums.RevenueStatusClaimable,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.entries[e.ID] = e
		s.entryOrder = append(s.entryOrder, e.ID)
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *Store) ClaimableBalance(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, e := range s.entries {
		if e.RecipientID == recipientID && e.Status == enums.RevenueStatusClaimable {
			total += e.Amount
		}
	}
	return total, nil
}

func (s *Store) Summary(_ context.Context, recipientID string) (model.EarningsSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out model.EarningsSummary
	for _, e := range s.entries {
		if e.RecipientID != recipientID {
			continue
		}
		out.Entries++
		switch e.Status {
		case enums.RevenueStatusClaimable:
			out.Available += e.Amount
		case enums.RevenueStatusSettling:
			out.Settling += e.Amount
		case enums.RevenueStatusSettled:
			out.Settled += e.Amount
		case enums.RevenueStatusFailed:
			out.Failed += e.Amount
		}
	}
	return out, nil
}

func (s *Store) ListByRecipient(_ context.Context, recipientID string, limit int) ([]model.RevenueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.RevenueEntry, 0)
	for i := len(s.entryOrder) - 1; i >= 0; i-- {
		e := s.entries[s.entryOrder[i]]
		if e.RecipientID != recipientID {
			continue
		}
		out = append(out, cloneEntry(e))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ClaimForWithdrawal(_ context.Context, recipientID string, batchStamp, dayStart time.Time, dailyLimit int) (model.WithdrawalClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim := model.WithdrawalClaim{RecipientID: recipientID, BatchStamp: batchStamp}
	claimable := make([]*model.RevenueEntry, 0)
	stamps := make([]time.Time, 0)
	for _, id := range s.entryOrder {
		e := s.entries[id]
		if e.RecipientID != recipientID {
			continue
		}
		if e.Status == enums.RevenueStatusClaimable {
			claimable = append(claimable, e)
			claim.Amount += e.Amount
		}
		if e.WithdrawalBatchStamp != nil {
			stamps = append(stamps, *e.WithdrawalBatchStamp)
		}
	}

	if len(claimable) == 0 {
		return model.WithdrawalClaim{}, repo.ErrNothingClaimable
	}
	if claim.Amount <= 0 {
		return model.WithdrawalClaim{}, repo.ErrNonPositiveBalance
	}
	if dailyLimit > 0 && rules.CountBatchesSince(stamps, dayStart) >= dailyLimit {
		return model.WithdrawalClaim{}, repo.ErrBatchLimitReached
	}

	for _, e := range claimable {
		stamp := batchStamp
		e.Status = enums.RevenueStatusSettling
		e.WithdrawalBatchStamp = &stamp
		e.UpdatedAt = batchStamp
		claim.EntryIDs = append(claim.EntryIDs, e.ID)
	}
	return claim, nil
}

func (s *Store) SettleBatch(_ context.Context, recipientID string, batchStamp time.Time, txRef string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.batchLocked(recipientID, batchStamp) {
		ref := txRef
		e.Status = enums.RevenueStatusSettled
		e.PaymentTxRef = &ref
		e.UpdatedAt = now.UTC()
		n++
	}
	return n, nil
}

func (s *Store) RevertBatch(_ context.Context, recipientID string, batchStamp time.Time, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.batchLocked(recipientID, batchStamp) {
		e.Status = enums.RevenueStatusClaimable
		e.WithdrawalBatchStamp = nil
		e.UpdatedAt = now.UTC()
		n++
	}
	return n, nil
}

func (s *Store) batchLocked(recipientID string, batchStamp time.Time) []*model.RevenueEntry {
	out := make([]*model.RevenueEntry, 0)
	for _, e := range s.entries {
		if e.RecipientID != recipientID || e.Status != enums.RevenueStatusSettling {
			continue
		}
		if e.WithdrawalBatchStamp != nil && e.WithdrawalBatchStamp.Equal(batchStamp) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) ListStaleSettling(_ context.Context, olderThan time.Time, limit int) ([]model.SettlingBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		recipient string
		stamp     int64
	}
	batches := make(map[key]*model.SettlingBatch)
	for _, e := range s.entries {
		if e.Status != enums.RevenueStatusSettling || e.WithdrawalBatchStamp == nil {
			continue
		}
		if !e.WithdrawalBatchStamp.Before(olderThan) {
			continue
		}
		k := key{recipient: e.RecipientID, stamp: e.WithdrawalBatchStamp.UnixMicro()}
		b, ok := batches[k]
		if !ok {
			b = &model.SettlingBatch{RecipientID: e.RecipientID, BatchStamp: *e.WithdrawalBatchStamp}
			batches[k] = b
		}
		b.Amount += e.Amount
		b.Entries++
		if e.PaymentTxRef != nil && b.PaymentTxRef == nil {
			ref := *e.PaymentTxRef
			b.PaymentTxRef = &ref
		}
	}

	out := make([]model.SettlingBatch, 0, len(batches))
	for _, b := range batches {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BatchStamp.Equal(out[j].BatchStamp) {
			return out[i].BatchStamp.Before(out[j].BatchStamp)
		}
		return out[i].RecipientID < out[j].RecipientID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePurchase(p *model.Purchase) model.Purchase {
	out := *p
	if p.PaymentTxRef != nil {
		ref := *p.PaymentTxRef
		out.PaymentTxRef = &ref
	}
	return out
}

func cloneEntry(e *model.RevenueEntry) model.RevenueEntry {
	out := *e
	if e.PaymentTxRef != nil {
		ref := *e.PaymentTxRef
		out.PaymentTxRef = &ref
	}
	if e.WithdrawalBatchStamp != nil {
		stamp := *e.WithdrawalBatchStamp
		out.WithdrawalBatchStamp = &stamp
	}
	return out
}
