package dto

import (
	"time"

	"github.com/biosmarket/settlement/internal/domain/model"
)

type ContributionRequest struct {
	ListingID string `json:"listing_id"`
}

type ContributionResponse struct {
	ID            string     `json:"id"`
	DatasetID     string     `json:"dataset_id"`
	ContributorID string     `json:"contributor_id"`
	ListingID     string     `json:"listing_id"`
	Status        string     `json:"status"`
	JoinedAt      time.Time  `json:"joined_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	Reactivated   bool       `json:"reactivated,omitempty"`
}

func NewContributionResponse(c model.Contribution) ContributionResponse {
	return ContributionResponse{
		ID:            c.ID,
		DatasetID:     c.DatasetID,
		ContributorID: c.ContributorID,
		ListingID:     c.ListingID,
		Status:        string(c.Status),
		JoinedAt:      c.JoinedAt,
		RevokedAt:     c.RevokedAt,
	}
}
