package model

import (
	"time"

	"github.com/biosmarket/settlement/internal/domain/enums"
)

type Listing struct {
	ID          string              `json:"id"`
	OwnerID     string              `json:"owner_id"`
	Title       string              `json:"title"`
	PriceAmount int64               `json:"price_amount"`
	Status      enums.ListingStatus `json:"status"`
}

type Dataset struct {
	ID                 string              `json:"id"`
	CreatorID          string              `json:"creator_id"`
	Title              string              `json:"title"`
	PriceAmount        int64               `json:"price_amount"`
	Status             enums.DatasetStatus `json:"status"`
	TotalContributions int                 `json:"total_contributions"`
}

type Contribution struct {
	ID            string                   `json:"id"`
	DatasetID     string                   `json:"dataset_id"`
	ContributorID string                   `json:"contributor_id"`
	ListingID     string                   `json:"listing_id"`
	Status        enums.ContributionStatus `json:"status"`
	JoinedAt      time.Time                `json:"joined_at"`
	RevokedAt     *time.Time               `json:"revoked_at,omitempty"`
}

type User struct {
	ID            string `json:"id"`
	WalletAddress string `json:"wallet_address"`
}
