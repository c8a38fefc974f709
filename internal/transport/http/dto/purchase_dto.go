package dto

import (
	"time"

	"github.com/biosmarket/settlement/internal/domain/model"
)

type PurchaseInitiateRequest struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
}

type PurchaseInitiateResponse struct {
	Purchase           PurchaseResponse `json:"purchase"`
	PaymentDestination string           `json:"payment_destination"`
	TokenMint          string           `json:"token_mint"`
	Amount             Amount           `json:"amount"`
}

type PurchaseConfirmRequest struct {
	PurchaseID string `json:"purchase_id"`
	TxRef      string `json:"tx_ref"`
}

type PurchaseConfirmResponse struct {
	OK               bool             `json:"ok"`
	Purchase         PurchaseResponse `json:"purchase"`
	AlreadyConfirmed bool             `json:"already_confirmed"`
	EntriesRecorded  int              `json:"entries_recorded"`
}

type PurchaseResponse struct {
	ID           string    `json:"id"`
	BuyerID      string    `json:"buyer_id"`
	TargetType   string    `json:"target_type"`
	TargetID     string    `json:"target_id"`
	Amount       Amount    `json:"amount"`
	PaymentTxRef *string   `json:"payment_tx_ref,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type PurchaseListResponse struct {
	Items []PurchaseResponse `json:"items"`
}

func NewPurchaseResponse(p model.Purchase) PurchaseResponse {
	return PurchaseResponse{
		ID:           p.ID,
		BuyerID:      p.BuyerID,
		TargetType:   string(p.TargetType),
		TargetID:     p.TargetID,
		Amount:       NewAmount(p.Amount),
		PaymentTxRef: p.PaymentTxRef,
		Status:       string(p.Status),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
