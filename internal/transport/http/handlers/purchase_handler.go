package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/biosmarket/settlement/internal/domain/enums"
	"github.com/biosmarket/settlement/internal/domain/model"
	purchasesvc "github.com/biosmarket/settlement/internal/services/purchases"
	"github.com/biosmarket/settlement/internal/transport/http/dto"
	httperrors "github.com/biosmarket/settlement/internal/transport/http/errors"
)

type PurchaseHandler struct {
	service *purchasesvc.Service
}

func NewPurchaseHandler(service *purchasesvc.Service) *PurchaseHandler {
	return &PurchaseHandler{service: service}
}

func (h *PurchaseHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	var req dto.PurchaseInitiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.service.Initiate(r.Context(), purchasesvc.InitiateInput{
		BuyerID:    identity.UserID,
		TargetType: enums.TargetType(strings.ToLower(strings.TrimSpace(req.TargetType))),
		TargetID:   req.TargetID,
	})
	if err != nil {
		writePurchaseError(w, err, "failed to initiate purchase")
		return
	}

	httperrors.Write(w, http.StatusCreated, dto.PurchaseInitiateResponse{
		Purchase:           dto.NewPurchaseResponse(result.Purchase),
		PaymentDestination: result.PaymentDestination,
		TokenMint:          result.TokenMint,
		Amount:             dto.NewAmount(result.Amount),
	})
}

func (h *PurchaseHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	var req dto.PurchaseConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.service.Confirm(r.Context(), purchasesvc.ConfirmInput{
		PurchaseID:   req.PurchaseID,
		BuyerID:      identity.UserID,
		PaymentTxRef: req.TxRef,
	})
	if err != nil {
		writePurchaseError(w, err, "failed to confirm purchase")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PurchaseConfirmResponse{
		OK:               true,
		Purchase:         dto.NewPurchaseResponse(result.Purchase),
		AlreadyConfirmed: result.AlreadyConfirmed,
		EntriesRecorded:  result.EntriesRecorded,
	})
}

func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	purchase, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), identity.UserID)
	if err != nil {
		writePurchaseError(w, err, "failed to load purchase")
		return
	}
	httperrors.Write(w, http.StatusOK, dto.NewPurchaseResponse(purchase))
}

func (h *PurchaseHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	items, err := h.service.ListByBuyer(r.Context(), identity.UserID, r.URL.Query().Get("status"))
	if err != nil {
		writePurchaseError(w, err, "failed to list purchases")
		return
	}
	httperrors.Write(w, http.StatusOK, dto.PurchaseListResponse{Items: mapPurchases(items)})
}

func mapPurchases(items []model.Purchase) []dto.PurchaseResponse {
	out := make([]dto.PurchaseResponse, 0, len(items))
	for _, item := range items {
		out = append(out, dto.NewPurchaseResponse(item))
	}
	return out
}

func writePurchaseError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, purchasesvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase request")
	case errors.Is(err, purchasesvc.ErrUnauthorized):
		writeForbidden(w, "purchase belongs to another buyer")
	case errors.Is(err, purchasesvc.ErrPurchaseNotFound):
		writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
	case errors.Is(err, purchasesvc.ErrTargetNotFound):
		writeNotFound(w, "TARGET_NOT_FOUND", "listing or dataset not found")
	case errors.Is(err, purchasesvc.ErrWalletNotFound):
		writeNotFound(w, "WALLET_NOT_FOUND", "buyer wallet is not registered")
	case errors.Is(err, purchasesvc.ErrInvalidState):
		writeError(w, http.StatusConflict, "INVALID_STATE", "purchase can no longer be confirmed")
	case errors.Is(err, purchasesvc.ErrPaymentReused):
		writeError(w, http.StatusConflict, "PAYMENT_REUSED", "payment already confirmed another purchase")
	case errors.Is(err, purchasesvc.ErrNotPurchasable):
		writeError(w, http.StatusUnprocessableEntity, "NOT_PURCHASABLE", "target is not purchasable")
	case errors.Is(err, purchasesvc.ErrSelfPurchase):
		writeError(w, http.StatusUnprocessableEntity, "SELF_PURCHASE", "cannot purchase own listing")
	case errors.Is(err, purchasesvc.ErrVerificationFailed):
		writeError(w, http.StatusPaymentRequired, "VERIFICATION_FAILED", "payment could not be verified")
	default:
		writeInternal(w, "INTERNAL_ERROR", fallback)
	}
}
