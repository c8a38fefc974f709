package enums

type ContributionStatus string

const (
	ContributionStatusActive  ContributionStatus = "active"
	ContributionStatusRevoked ContributionStatus = "revoked"
)

type DatasetStatus string

const (
	DatasetStatusOpen     DatasetStatus = "open"
	DatasetStatusClosed   DatasetStatus = "closed"
	DatasetStatusArchived DatasetStatus = "archived"
)

type ListingStatus string

const (
	ListingStatusDraft  ListingStatus = "draft"
	ListingStatusActive ListingStatus = "active"
	ListingStatusPaused ListingStatus = "paused"
)
