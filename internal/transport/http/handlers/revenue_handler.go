package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/biosmarket/settlement/internal/domain/rules"
	revenuesvc "github.com/biosmarket/settlement/internal/services/revenue"
	"github.com/biosmarket/settlement/internal/transport/http/dto"
	httperrors "github.com/biosmarket/settlement/internal/transport/http/errors"
)

type RevenueHandler struct {
	service *revenuesvc.Service
}

func NewRevenueHandler(service *revenuesvc.Service) *RevenueHandler {
	return &RevenueHandler{service: service}
}

func (h *RevenueHandler) Earnings(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "REVENUE_SERVICE_UNAVAILABLE", "revenue service is unavailable")
		return
	}

	summary, err := h.service.Earnings(r.Context(), identity.UserID)
	if err != nil {
		writeRevenueError(w, err, "failed to load earnings")
		return
	}
	httperrors.Write(w, http.StatusOK, dto.NewEarningsResponse(summary))
}

func (h *RevenueHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "REVENUE_SERVICE_UNAVAILABLE", "revenue service is unavailable")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	history, err := h.service.History(r.Context(), identity.UserID, limit)
	if err != nil {
		writeRevenueError(w, err, "failed to load withdrawals")
		return
	}

	items := make([]dto.RevenueEntryResponse, 0, len(history.Entries))
	for _, entry := range history.Entries {
		items = append(items, dto.NewRevenueEntryResponse(entry))
	}
	httperrors.Write(w, http.StatusOK, dto.WithdrawalHistoryResponse{
		Available: dto.NewAmount(history.Available),
		Items:     items,
	})
}

func (h *RevenueHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "REVENUE_SERVICE_UNAVAILABLE", "revenue service is unavailable")
		return
	}

	result, err := h.service.Withdraw(r.Context(), identity.UserID)
	if err != nil {
		writeRevenueError(w, err, "failed to withdraw")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.WithdrawResponse{
		OK:             true,
		Amount:         dto.NewAmount(result.Amount),
		TxRef:          result.TxRef,
		EntriesSettled: result.EntriesSettled,
		BatchStamp:     result.BatchStamp,
	})
}

func writeRevenueError(w http.ResponseWriter, err error, fallback string) {
	var limited *revenuesvc.RateLimitError
	if errors.As(err, &limited) {
		resetAt := limited.ResetAt
		httperrors.WriteRateLimited(w, httperrors.RateLimitError{
			Code:          "WITHDRAWAL_LIMIT",
			Message:       "daily withdrawal limit reached",
			RetryAfterSec: max(rules.CeilSeconds(limited.RetryAfter), 1),
			ResetAt:       &resetAt,
		})
		return
	}

	switch {
	case errors.Is(err, revenuesvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid withdrawal request")
	case errors.Is(err, revenuesvc.ErrNothingToWithdraw):
		writeBadRequest(w, "NOTHING_TO_WITHDRAW", "no claimable earnings")
	case errors.Is(err, revenuesvc.ErrInsufficientBalance):
		writeBadRequest(w, "INSUFFICIENT_BALANCE", "claimable balance is not positive")
	case errors.Is(err, revenuesvc.ErrRecipientNotFound):
		writeNotFound(w, "WALLET_NOT_FOUND", "recipient wallet is not registered")
	case errors.Is(err, revenuesvc.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, "TRANSFER_FAILED", "transfer failed, earnings remain claimable")
	case errors.Is(err, revenuesvc.ErrTransferPending):
		writeError(w, http.StatusBadGateway, "TRANSFER_PENDING", "transfer outcome unknown, earnings are held until reconciliation")
	default:
		writeInternal(w, "INTERNAL_ERROR", fallback)
	}
}
