package model

import (
	"time"

	"github.com/biosmarket/settlement/internal/domain/enums"
)

type RevenueEntry struct {
	ID                   string              `json:"id"`
	PurchaseID           string              `json:"purchase_id"`
	RecipientID          string              `json:"recipient_id"`
	Amount               int64               `json:"amount"`
	PaymentTxRef         *string             `json:"payment_tx_ref,omitempty"`
	Status               enums.RevenueStatus `json:"status"`
	WithdrawalBatchStamp *time.Time          `json:"withdrawal_batch_stamp,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// WithdrawalClaim is the outcome of the atomic claim phase.
type WithdrawalClaim struct {
	RecipientID string
	BatchStamp  time.Time
	EntryIDs    []string
	Amount      int64
}

// SettlingBatch groups entries that share one withdrawal batch stamp.
type SettlingBatch struct {
	RecipientID  string
	BatchStamp   time.Time
	Amount       int64
	Entries      int
	PaymentTxRef *string
}

type EarningsSummary struct {
	Available int64
	Settling  int64
	Settled   int64
	Failed    int64
	Entries   int
}
