package dto

import (
	"time"

	"github.com/biosmarket/settlement/internal/domain/model"
)

type EarningsResponse struct {
	Available Amount `json:"available"`
	Settling  Amount `json:"settling"`
	Settled   Amount `json:"settled"`
	Failed    Amount `json:"failed"`
	Entries   int    `json:"entries"`
}

type RevenueEntryResponse struct {
	ID                   string     `json:"id"`
	PurchaseID           string     `json:"purchase_id"`
	Amount               Amount     `json:"amount"`
	Status               string     `json:"status"`
	PaymentTxRef         *string    `json:"payment_tx_ref,omitempty"`
	WithdrawalBatchStamp *time.Time `json:"withdrawal_batch_stamp,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

type WithdrawalHistoryResponse struct {
	Available Amount                 `json:"available"`
	Items     []RevenueEntryResponse `json:"items"`
}

type WithdrawResponse struct {
	OK             bool      `json:"ok"`
	Amount         Amount    `json:"amount"`
	TxRef          string    `json:"tx_ref"`
	EntriesSettled int       `json:"entries_settled"`
	BatchStamp     time.Time `json:"batch_stamp"`
}

func NewEarningsResponse(s model.EarningsSummary) EarningsResponse {
	return EarningsResponse{
		Available: NewAmount(s.Available),
		Settling:  NewAmount(s.Settling),
		Settled:   NewAmount(s.Settled),
		Failed:    NewAmount(s.Failed),
		Entries:   s.Entries,
	}
}

func NewRevenueEntryResponse(e model.RevenueEntry) RevenueEntryResponse {
	return RevenueEntryResponse{
		ID:                   e.ID,
		PurchaseID:           e.PurchaseID,
		Amount:               NewAmount(e.Amount),
		Status:               string(e.Status),
		PaymentTxRef:         e.PaymentTxRef,
		WithdrawalBatchStamp: e.WithdrawalBatchStamp,
		CreatedAt:            e.CreatedAt,
	}
}
