package model

import (
	"time"

	"github.com/biosmarket/settlement/internal/domain/enums"
)

type Purchase struct {
	ID           string               `json:"id"`
	BuyerID      string               `json:"buyer_id"`
	TargetType   enums.TargetType     `json:"target_type"`
	TargetID     string               `json:"target_id"`
	Amount       int64                `json:"amount"`
	PaymentTxRef *string              `json:"payment_tx_ref,omitempty"`
	Status       enums.PurchaseStatus `json:"status"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Recipient is one member of the distribution snapshot taken when a purchase
// is confirmed. ContributionID is empty for single listings.
type Recipient struct {
	RecipientID    string
	ContributionID string
	JoinedAt       time.Time
}

// DistributionSnapshot is read in the same transaction that confirms the purchase.
type DistributionSnapshot struct {
	TargetType enums.TargetType
	Owner      string
	Recipients []Recipient
}
