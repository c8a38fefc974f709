// Package revenue owns what each recipient is owed and releases it on
// withdrawal. A withdrawal claims every claimable entry in one transaction,
// calls the gateway with no lock held, then settles or reverts the batch.
package revenue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/biosmarket/settlement/internal/domain/model"
	"github.com/biosmarket/settlement/internal/domain/rules"
	"github.com/biosmarket/settlement/internal/infra/escrow"
	"github.com/biosmarket/settlement/internal/infra/logger"
	"github.com/biosmarket/settlement/internal/infra/metrics"
	"github.com/biosmarket/settlement/internal/repo"
)

const (
	defaultSendTimeout  = 60 * time.Second
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
	// bookkeeping after the gateway call must finish even if the caller left
	cleanupTimeout = 10 * time.Second
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNothingToWithdraw   = errors.New("nothing to withdraw")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRateLimited         = errors.New("withdrawal limit reached")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrTransferPending     = errors.New("transfer outcome unknown")
	ErrRecipientNotFound   = errors.New("recipient wallet not found")
	ErrEntriesExist        = errors.New("revenue entries already recorded")
)

// RateLimitError carries when the next withdrawal becomes possible.
type RateLimitError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

type EntryStore interface {
	InsertEntries(ctx context.Context, purchaseID string, shares []rules.Share, now time.Time) ([]model.RevenueEntry, error)
	ClaimableBalance(ctx context.Context, recipientID string) (int64, error)
	Summary(ctx context.Context, recipientID string) (model.EarningsSummary, error)
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]model.RevenueEntry, error)
	ClaimForWithdrawal(ctx context.Context, recipientID string, batchStamp, dayStart time.Time, dailyLimit int) (model.WithdrawalClaim, error)
	SettleBatch(ctx context.Context, recipientID string, batchStamp time.Time, txRef string, now time.Time) (int64, error)
	RevertBatch(ctx context.Context, recipientID string, batchStamp time.Time, now time.Time) (int64, error)
}

type WalletDirectory interface {
	WalletAddress(ctx context.Context, userID string) (string, error)
}

type Gateway interface {
	SendFunds(ctx context.Context, toAddress string, amount int64, reference string) (string, error)
	LookupTransfer(ctx context.Context, reference string) (string, bool, error)
}

type Config struct {
	DailyBatchLimit int
	SendTimeout     time.Duration
	HistoryLimit    int
}

type Dependencies struct {
	Entries EntryStore
	Wallets WalletDirectory
	Gateway Gateway
	Logger  *zap.Logger
}

type Service struct {
	entries EntryStore
	wallets WalletDirectory
	gateway Gateway
	log     *zap.Logger
	cfg     Config
	now     func() time.Time
}

type WithdrawResult struct {
	RecipientID    string
	Amount         int64
	TxRef          string
	EntriesSettled int
	BatchStamp     time.Time
}

type HistoryResult struct {
	Available int64
	Entries   []model.RevenueEntry
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.DailyBatchLimit <= 0 {
		cfg.DailyBatchLimit = rules.DefaultDailyWithdrawalBatches
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}

	return &Service{
		entries: deps.Entries,
		wallets: deps.Wallets,
		gateway: deps.Gateway,
		log:     logger.OrNop(deps.Logger),
		cfg:     cfg,
		now:     time.Now,
	}
}

// RecordEntries writes one claimable entry per share. It refuses to write a
// second set for the same purchase.
func (s *Service) RecordEntries(ctx context.Context, purchaseID string, shares []rules.Share) (int, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return 0, ErrValidation
	}
	for _, share := range shares {
		if strings.TrimSpace(share.RecipientID) == "" || share.Amount < 0 {
			return 0, ErrValidation
		}
	}
	if len(shares) == 0 {
		return 0, nil
	}

	entries, err := s.entries.InsertEntries(ctx, purchaseID, shares, s.now().UTC())
	if err != nil {
		if errors.Is(err, repo.ErrEntriesExist) {
			return 0, ErrEntriesExist
		}
		return 0, fmt.Errorf("insert revenue entries: %w", err)
	}
	return len(entries), nil
}

func (s *Service) AvailableBalance(ctx context.Context, recipientID string) (int64, error) {
	if strings.TrimSpace(recipientID) == "" {
		return 0, ErrValidation
	}
	balance, err := s.entries.ClaimableBalance(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("claimable balance: %w", err)
	}
	return balance, nil
}

func (s *Service) Earnings(ctx context.Context, recipientID string) (model.EarningsSummary, error) {
	if strings.TrimSpace(recipientID) == "" {
		return model.EarningsSummary{}, ErrValidation
	}
	summary, err := s.entries.Summary(ctx, recipientID)
	if err != nil {
		return model.EarningsSummary{}, fmt.Errorf("earnings summary: %w", err)
	}
	return summary, nil
}

func (s *Service) History(ctx context.Context, recipientID string, limit int) (HistoryResult, error) {
	if strings.TrimSpace(recipientID) == "" {
		return HistoryResult{}, ErrValidation
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	available, err := s.AvailableBalance(ctx, recipientID)
	if err != nil {
		return HistoryResult{}, err
	}
	entries, err := s.entries.ListByRecipient(ctx, recipientID, limit)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("list revenue entries: %w", err)
	}
	return HistoryResult{Available: available, Entries: entries}, nil
}

func (s *Service) Withdraw(ctx context.Context, recipientID string) (WithdrawResult, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return WithdrawResult{}, ErrValidation
	}

	now := s.now()
	batchStamp := rules.BatchStamp(now)

	claim, err := s.entries.ClaimForWithdrawal(ctx, recipientID, batchStamp, rules.StartOfUTCDay(batchStamp), s.cfg.DailyBatchLimit)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNothingClaimable):
			metrics.Withdrawals.WithLabelValues("nothing").Inc()
			return WithdrawResult{}, ErrNothingToWithdraw
		case errors.Is(err, repo.ErrNonPositiveBalance):
			metrics.Withdrawals.WithLabelValues("insufficient").Inc()
			return WithdrawResult{}, ErrInsufficientBalance
		case errors.Is(err, repo.ErrBatchLimitReached):
			metrics.Withdrawals.WithLabelValues("rate_limited").Inc()
			resetAt := rules.NextResetAt(now)
			return WithdrawResult{}, &RateLimitError{RetryAfter: resetAt.Sub(now.UTC()), ResetAt: resetAt}
		default:
			return WithdrawResult{}, fmt.Errorf("claim entries: %w", err)
		}
	}

	log := s.log.With(
		zap.String("recipient_id", recipientID),
		zap.Time("batch_stamp", claim.BatchStamp),
		zap.Int64("amount", claim.Amount),
		zap.Int("entries", len(claim.EntryIDs)),
	)

	wallet, err := s.wallets.WalletAddress(ctx, recipientID)
	if err != nil {
		s.revert(ctx, log, claim)
		metrics.Withdrawals.WithLabelValues("no_wallet").Inc()
		if errors.Is(err, repo.ErrUserNotFound) {
			return WithdrawResult{}, ErrRecipientNotFound
		}
		return WithdrawResult{}, fmt.Errorf("resolve recipient wallet: %w", err)
	}

	reference := rules.WithdrawalReference(recipientID, claim.BatchStamp)
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	started := time.Now()
	txRef, err := s.gateway.SendFunds(sendCtx, wallet, claim.Amount, reference)
	cancel()
	metrics.GatewayLatency.WithLabelValues("send_funds", metrics.Result(err)).Observe(time.Since(started).Seconds())
	if err != nil && outcomeUnknown(err) {
		landedRef, landed, lookupErr := s.lookupTransfer(ctx, reference)
		switch {
		case lookupErr != nil:
			// Neither revert nor settle: the reconciler resolves the batch by reference.
			log.Error("withdrawal outcome unknown, batch left settling",
				zap.String("anomaly", "transfer_outcome_unknown"),
				zap.String("reference", reference),
				zap.NamedError("send_error", err),
				zap.NamedError("lookup_error", lookupErr),
			)
			metrics.Withdrawals.WithLabelValues("outcome_unknown").Inc()
			return WithdrawResult{}, fmt.Errorf("%w: %v", ErrTransferPending, err)
		case landed:
			log.Warn("transfer landed despite send error", zap.String("tx_ref", landedRef), zap.Error(err))
			txRef, err = landedRef, nil
		}
	}
	if err != nil {
		log.Warn("withdrawal transfer failed, reverting batch", zap.Error(err))
		s.revert(ctx, log, claim)
		metrics.Withdrawals.WithLabelValues("transfer_failed").Inc()
		return WithdrawResult{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer settleCancel()
	if _, err := s.entries.SettleBatch(settleCtx, recipientID, claim.BatchStamp, txRef, s.now().UTC()); err != nil {
		// Funds left custody; the reconciler settles the batch from the gateway record.
		log.Error("withdrawal sent but not settled in ledger",
			zap.String("anomaly", "settle_write_failed"),
			zap.String("tx_ref", txRef),
			zap.Error(err),
		)
		metrics.Withdrawals.WithLabelValues("settle_write_failed").Inc()
	} else {
		metrics.Withdrawals.WithLabelValues("settled").Inc()
		log.Info("withdrawal settled", zap.String("tx_ref", txRef))
	}
	metrics.WithdrawnAmount.Add(float64(claim.Amount))

	return WithdrawResult{
		RecipientID:    recipientID,
		Amount:         claim.Amount,
		TxRef:          txRef,
		EntriesSettled: len(claim.EntryIDs),
		BatchStamp:     claim.BatchStamp,
	}, nil
}

// outcomeUnknown reports send errors after which the transfer may still
// have been executed by the custody service.
func outcomeUnknown(err error) bool {
	return escrow.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (s *Service) lookupTransfer(ctx context.Context, reference string) (string, bool, error) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	started := time.Now()
	txRef, found, err := s.gateway.LookupTransfer(lookupCtx, reference)
	metrics.GatewayLatency.WithLabelValues("lookup_transfer", metrics.Result(err)).Observe(time.Since(started).Seconds())
	return txRef, found, err
}

func (s *Service) revert(ctx context.Context, log *zap.Logger, claim model.WithdrawalClaim) {
	revertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	reverted, err := s.entries.RevertBatch(revertCtx, claim.RecipientID, claim.BatchStamp, s.now().UTC())
	if err != nil {
		log.Error("failed to revert withdrawal batch",
			zap.String("anomaly", "revert_failed"),
			zap.Error(err),
		)
		return
	}
	if int(reverted) != len(claim.EntryIDs) {
		log.Warn("withdrawal batch partially reverted", zap.Int64("reverted", reverted))
	}
}
