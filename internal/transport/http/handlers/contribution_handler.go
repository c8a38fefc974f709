package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	contribsvc "github.com/biosmarket/settlement/internal/services/contributions"
	"github.com/biosmarket/settlement/internal/transport/http/dto"
	httperrors "github.com/biosmarket/settlement/internal/transport/http/errors"
)

type ContributionHandler struct {
	service *contribsvc.Service
}

func NewContributionHandler(service *contribsvc.Service) *ContributionHandler {
	return &ContributionHandler{service: service}
}

func (h *ContributionHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	in, ok := h.input(w, r)
	if !ok {
		return
	}

	result, err := h.service.Contribute(r.Context(), in)
	if err != nil {
		writeContributionError(w, err, "failed to contribute listing")
		return
	}

	resp := dto.NewContributionResponse(result.Contribution)
	resp.Reactivated = result.Reactivated
	status := http.StatusCreated
	if result.Reactivated {
		status = http.StatusOK
	}
	httperrors.Write(w, status, resp)
}

func (h *ContributionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	in, ok := h.input(w, r)
	if !ok {
		return
	}

	contribution, err := h.service.Revoke(r.Context(), in)
	if err != nil {
		writeContributionError(w, err, "failed to revoke contribution")
		return
	}
	httperrors.Write(w, http.StatusOK, dto.NewContributionResponse(contribution))
}

func (h *ContributionHandler) input(w http.ResponseWriter, r *http.Request) (contribsvc.Input, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return contribsvc.Input{}, false
	}
	if h.service == nil {
		writeInternal(w, "CONTRIBUTION_SERVICE_UNAVAILABLE", "contribution service is unavailable")
		return contribsvc.Input{}, false
	}

	var req dto.ContributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return contribsvc.Input{}, false
	}
	return contribsvc.Input{
		DatasetID:     chi.URLParam(r, "id"),
		ContributorID: identity.UserID,
		ListingID:     req.ListingID,
	}, true
}

func writeContributionError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, contribsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "dataset id and listing_id are required")
	case errors.Is(err, contribsvc.ErrDatasetNotFound):
		writeNotFound(w, "DATASET_NOT_FOUND", "dataset not found")
	case errors.Is(err, contribsvc.ErrListingNotFound):
		writeNotFound(w, "LISTING_NOT_FOUND", "listing not found")
	case errors.Is(err, contribsvc.ErrContributionNotFound):
		writeNotFound(w, "CONTRIBUTION_NOT_FOUND", "active contribution not found")
	case errors.Is(err, contribsvc.ErrUnauthorized):
		writeForbidden(w, "listing belongs to another user")
	case errors.Is(err, contribsvc.ErrAlreadyContributed):
		writeError(w, http.StatusConflict, "ALREADY_CONTRIBUTED", "listing already contributed")
	case errors.Is(err, contribsvc.ErrDatasetClosed):
		writeError(w, http.StatusUnprocessableEntity, "DATASET_CLOSED", "dataset is not accepting contributions")
	default:
		writeInternal(w, "INTERNAL_ERROR", fallback)
	}
}
