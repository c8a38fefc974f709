// Package purchases runs the purchase state machine: pending to confirmed or
// failed. Only the caller whose guarded update confirmed the purchase
// distributes its proceeds.
package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/biosmarket/settlement/internal/domain/enums"
	"github.com/biosmarket/settlement/internal/domain/model"
	"github.com/biosmarket/settlement/internal/domain/rules"
	"github.com/biosmarket/settlement/internal/infra/logger"
	"github.com/biosmarket/settlement/internal/infra/metrics"
	"github.com/biosmarket/settlement/internal/repo"
)

const (
	defaultListLimit  = 100
	distributeTimeout = 10 * time.Second
)

var (
	ErrValidation         = errors.New("validation error")
	ErrPurchaseNotFound   = errors.New("purchase not found")
	ErrTargetNotFound     = errors.New("purchase target not found")
	ErrWalletNotFound     = errors.New("buyer wallet not found")
	ErrUnauthorized       = errors.New("purchase belongs to another buyer")
	ErrInvalidState       = errors.New("invalid purchase state")
	ErrPaymentReused      = errors.New("payment already used for another purchase")
	ErrNotPurchasable     = errors.New("target is not purchasable")
	ErrSelfPurchase       = errors.New("cannot purchase own listing")
	ErrVerificationFailed = errors.New("payment verification failed")
)

type PurchaseStore interface {
	CreatePending(ctx context.Context, in model.Purchase, now time.Time) (model.Purchase, error)
	FindByID(ctx context.Context, id string) (model.Purchase, error)
	FindConfirmedByTxRef(ctx context.Context, txRef string) (model.Purchase, error)
	MarkConfirmed(ctx context.Context, id, txRef string, now time.Time) (model.Purchase, model.DistributionSnapshot, bool, error)
	MarkFailed(ctx context.Context, id, txRef string, now time.Time) (model.Purchase, bool, error)
	ListByBuyer(ctx context.Context, buyerID string, status enums.PurchaseStatus, limit int) ([]model.Purchase, error)
}

type CatalogReader interface {
	GetListing(ctx context.Context, id string) (model.Listing, error)
	GetDataset(ctx context.Context, id string) (model.Dataset, error)
	CountActiveContributions(ctx context.Context, datasetID string) (int, error)
}

type WalletDirectory interface {
	WalletAddress(ctx context.Context, userID string) (string, error)
}

type Gateway interface {
	PaymentDestination(ctx context.Context) (string, error)
	VerifyIncomingTransfer(ctx context.Context, txRef, fromAddress string, amount int64) (bool, error)
}

type EntryRecorder interface {
	RecordEntries(ctx context.Context, purchaseID string, shares []rules.Share) (int, error)
}

type Config struct {
	PlatformFeeBps int64
	Remainder      rules.RemainderPolicy
	TokenMint      string
	ListLimit      int
}

type Dependencies struct {
	Purchases PurchaseStore
	Catalog   CatalogReader
	Wallets   WalletDirectory
	Gateway   Gateway
	Entries   EntryRecorder
	Logger    *zap.Logger
}

type Service struct {
	purchases PurchaseStore
	catalog   CatalogReader
	wallets   WalletDirectory
	gateway   Gateway
	entries   EntryRecorder
	log       *zap.Logger
	cfg       Config
	now       func() time.Time
}

type InitiateInput struct {
	BuyerID    string
	TargetType enums.TargetType
	TargetID   string
}

type InitiateResult struct {
	Purchase           model.Purchase
	PaymentDestination string
	TokenMint          string
	Amount             int64
}

type ConfirmInput struct {
	PurchaseID   string
	BuyerID      string
	PaymentTxRef string
}

type ConfirmResult struct {
	Purchase         model.Purchase
	AlreadyConfirmed bool
	EntriesRecorded  int
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.Remainder == "" {
		cfg.Remainder = rules.RemainderFirstRecipients
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = defaultListLimit
	}

	return &Service{
		purchases: deps.Purchases,
		catalog:   deps.Catalog,
		wallets:   deps.Wallets,
		gateway:   deps.Gateway,
		entries:   deps.Entries,
		log:       logger.OrNop(deps.Logger),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Service) Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	in.BuyerID = strings.TrimSpace(in.BuyerID)
	in.TargetID = strings.TrimSpace(in.TargetID)
	if in.BuyerID == "" || in.TargetID == "" || !in.TargetType.Valid() {
		return InitiateResult{}, ErrValidation
	}

	amount, err := s.priceOf(ctx, in)
	if err != nil {
		return InitiateResult{}, err
	}
	if amount <= 0 {
		return InitiateResult{}, ErrNotPurchasable
	}

	purchase, err := s.purchases.CreatePending(ctx, model.Purchase{
		BuyerID:    in.BuyerID,
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		Amount:     amount,
	}, s.now().UTC())
	if err != nil {
		return InitiateResult{}, fmt.Errorf("create pending purchase: %w", err)
	}
	metrics.PurchaseTransitions.WithLabelValues(string(enums.PurchaseStatusPending)).Inc()

	destination, err := s.gateway.PaymentDestination(ctx)
	if err != nil {
		// The pending row stays; the buyer can initiate again or confirm later.
		return InitiateResult{}, fmt.Errorf("resolve payment destination: %w", err)
	}

	return InitiateResult{
		Purchase:           purchase,
		PaymentDestination: destination,
		TokenMint:          s.cfg.TokenMint,
		Amount:             amount,
	}, nil
}

func (s *Service) priceOf(ctx context.Context, in InitiateInput) (int64, error) {
	switch in.TargetType {
	case enums.TargetTypeListing:
		listing, err := s.catalog.GetListing(ctx, in.TargetID)
		if err != nil {
			if errors.Is(err, repo.ErrListingNotFound) {
				return 0, ErrTargetNotFound
			}
			return 0, fmt.Errorf("get listing: %w", err)
		}
		if listing.OwnerID == in.BuyerID {
			return 0, ErrSelfPurchase
		}
		if listing.Status != "" && listing.Status != enums.ListingStatusActive {
			return 0, ErrNotPurchasable
		}
		return listing.PriceAmount, nil
	default:
		dataset, err := s.catalog.GetDataset(ctx, in.TargetID)
		if err != nil {
			if errors.Is(err, repo.ErrDatasetNotFound) {
				return 0, ErrTargetNotFound
			}
			return 0, fmt.Errorf("get dataset: %w", err)
		}
		if dataset.Status == enums.DatasetStatusArchived {
			return 0, ErrNotPurchasable
		}
		active, err := s.catalog.CountActiveContributions(ctx, dataset.ID)
		if err != nil {
			return 0, fmt.Errorf("count active contributions: %w", err)
		}
		if active == 0 {
			return 0, ErrNotPurchasable
		}
		return dataset.PriceAmount, nil
	}
}

func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	in.PurchaseID = strings.TrimSpace(in.PurchaseID)
	in.BuyerID = strings.TrimSpace(in.BuyerID)
	in.PaymentTxRef = strings.TrimSpace(in.PaymentTxRef)
	if in.PurchaseID == "" || in.BuyerID == "" || in.PaymentTxRef == "" {
		return ConfirmResult{}, ErrValidation
	}

	purchase, err := s.Get(ctx, in.PurchaseID, in.BuyerID)
	if err != nil {
		return ConfirmResult{}, err
	}
	switch purchase.Status {
	case enums.PurchaseStatusConfirmed:
		metrics.ConfirmReplays.Inc()
		return ConfirmResult{Purchase: purchase, AlreadyConfirmed: true}, nil
	case enums.PurchaseStatusFailed:
		return ConfirmResult{}, ErrInvalidState
	}

	if other, err := s.purchases.FindConfirmedByTxRef(ctx, in.PaymentTxRef); err == nil {
		if other.ID != purchase.ID {
			return ConfirmResult{}, ErrPaymentReused
		}
	} else if !errors.Is(err, repo.ErrPurchaseNotFound) {
		return ConfirmResult{}, fmt.Errorf("find purchase by tx ref: %w", err)
	}

	wallet, err := s.wallets.WalletAddress(ctx, purchase.BuyerID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return ConfirmResult{}, ErrWalletNotFound
		}
		return ConfirmResult{}, fmt.Errorf("resolve buyer wallet: %w", err)
	}

	started := time.Now()
	verified, err := s.gateway.VerifyIncomingTransfer(ctx, in.PaymentTxRef, wallet, purchase.Amount)
	metrics.GatewayLatency.WithLabelValues("verify_incoming", metrics.Result(err)).Observe(time.Since(started).Seconds())
	if err != nil {
		// Unknown outcome: nothing is written and the buyer may retry.
		return ConfirmResult{}, fmt.Errorf("verify incoming transfer: %w", err)
	}

	if !verified {
		return s.fail(ctx, purchase, in.PaymentTxRef)
	}

	confirmed, snapshot, changed, err := s.purchases.MarkConfirmed(ctx, purchase.ID, in.PaymentTxRef, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrTxRefInUse):
			return ConfirmResult{}, ErrPaymentReused
		case errors.Is(err, repo.ErrPurchaseNotPending):
			return ConfirmResult{}, ErrInvalidState
		case errors.Is(err, repo.ErrPurchaseNotFound):
			return ConfirmResult{}, ErrPurchaseNotFound
		default:
			return ConfirmResult{}, fmt.Errorf("mark purchase confirmed: %w", err)
		}
	}
	if !changed {
		metrics.ConfirmReplays.Inc()
		return ConfirmResult{Purchase: confirmed, AlreadyConfirmed: true}, nil
	}
	metrics.PurchaseTransitions.WithLabelValues(string(enums.PurchaseStatusConfirmed)).Inc()

	recorded := s.distribute(ctx, confirmed, snapshot)
	return ConfirmResult{Purchase: confirmed, EntriesRecorded: recorded}, nil
}

func (s *Service) fail(ctx context.Context, purchase model.Purchase, txRef string) (ConfirmResult, error) {
	failed, changed, err := s.purchases.MarkFailed(ctx, purchase.ID, txRef, s.now().UTC())
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("mark purchase failed: %w", err)
	}
	if changed {
		metrics.PurchaseTransitions.WithLabelValues(string(enums.PurchaseStatusFailed)).Inc()
		s.log.Info("purchase verification failed",
			zap.String("purchase_id", purchase.ID),
			zap.String("buyer_id", purchase.BuyerID),
			zap.String("tx_ref", txRef),
		)
		return ConfirmResult{}, ErrVerificationFailed
	}
	// A concurrent confirm with a valid payment won the race.
	if failed.Status == enums.PurchaseStatusConfirmed {
		metrics.ConfirmReplays.Inc()
		return ConfirmResult{Purchase: failed, AlreadyConfirmed: true}, nil
	}
	return ConfirmResult{}, ErrVerificationFailed
}

// distribute never fails the confirm: the purchase is already committed, so
// problems are logged as anomalies for operators.
func (s *Service) distribute(ctx context.Context, purchase model.Purchase, snapshot model.DistributionSnapshot) int {
	log := s.log.With(
		zap.String("purchase_id", purchase.ID),
		zap.String("target_type", string(purchase.TargetType)),
		zap.String("target_id", purchase.TargetID),
		zap.Int64("amount", purchase.Amount),
	)

	dist, err := rules.Distribute(rules.DistributionInput{
		Amount:       purchase.Amount,
		FeeBps:       s.cfg.PlatformFeeBps,
		TargetType:   purchase.TargetType,
		Owner:        snapshot.Owner,
		Contributors: snapshot.Recipients,
		Remainder:    s.cfg.Remainder,
	})
	if err != nil {
		log.Error("distribution rejected", zap.String("anomaly", "distribution_invalid"), zap.Error(err))
		metrics.DistributionAnomalies.WithLabelValues("distribution_invalid").Inc()
		return 0
	}

	metrics.DistributedAmount.WithLabelValues("fee").Add(float64(dist.Fee))
	metrics.DistributedAmount.WithLabelValues("undistributed").Add(float64(dist.Undistributed))

	if dist.Empty {
		log.Error("confirmed dataset purchase has no active contributors",
			zap.String("anomaly", "no_contributors"),
			zap.Int64("undistributed", dist.Undistributed),
		)
		metrics.DistributionAnomalies.WithLabelValues("no_contributors").Inc()
		return 0
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), distributeTimeout)
	defer cancel()

	recorded, err := s.entries.RecordEntries(recordCtx, purchase.ID, dist.Shares)
	if err != nil {
		log.Error("revenue entries not recorded for confirmed purchase",
			zap.String("anomaly", "entries_not_recorded"),
			zap.Int("shares", len(dist.Shares)),
			zap.Int64("shares_total", dist.SharesTotal()),
			zap.Error(err),
		)
		metrics.DistributionAnomalies.WithLabelValues("entries_not_recorded").Inc()
		return 0
	}

	metrics.DistributedAmount.WithLabelValues("shares").Add(float64(dist.SharesTotal()))
	log.Info("purchase distributed",
		zap.Int64("fee", dist.Fee),
		zap.Int("entries", recorded),
	)
	return recorded
}

func (s *Service) Get(ctx context.Context, purchaseID, buyerID string) (model.Purchase, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	buyerID = strings.TrimSpace(buyerID)
	if purchaseID == "" || buyerID == "" {
		return model.Purchase{}, ErrValidation
	}

	purchase, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, repo.ErrPurchaseNotFound) {
			return model.Purchase{}, ErrPurchaseNotFound
		}
		return model.Purchase{}, fmt.Errorf("find purchase: %w", err)
	}
	if purchase.BuyerID != buyerID {
		return model.Purchase{}, ErrUnauthorized
	}
	return purchase, nil
}

func (s *Service) ListByBuyer(ctx context.Context, buyerID, status string) ([]model.Purchase, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return nil, ErrValidation
	}
	filter := enums.PurchaseStatus(strings.ToLower(strings.TrimSpace(status)))
	if filter != "" && !filter.Valid() {
		return nil, ErrValidation
	}

	items, err := s.purchases.ListByBuyer(ctx, buyerID, filter, s.cfg.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return items, nil
}
