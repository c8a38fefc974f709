package enums

type RevenueStatus string

const (
	RevenueStatusClaimable RevenueStatus = "claimable"
	RevenueStatusSettling  RevenueStatus = "settling"
	RevenueStatusSettled   RevenueStatus = "settled"
	RevenueStatusFailed    RevenueStatus = "failed"
)
