// Package repo holds the sentinel errors shared by every storage driver.
package repo

import "errors"

var (
	ErrPurchaseNotFound     = errors.New("purchase not found")
	ErrPurchaseNotPending   = errors.New("purchase is not pending")
	ErrTxRefInUse           = errors.New("payment tx ref already attached to another purchase")
	ErrListingNotFound      = errors.New("listing not found")
	ErrDatasetNotFound      = errors.New("dataset not found")
	ErrDatasetClosed        = errors.New("dataset is not accepting contributions")
	ErrListingNotOwned      = errors.New("listing is not owned by contributor")
	ErrContributionExists   = errors.New("contribution already active")
	ErrContributionNotFound = errors.New("active contribution not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrEntriesExist         = errors.New("revenue entries already recorded for purchase")
	ErrNothingClaimable     = errors.New("no claimable revenue entries")
	ErrNonPositiveBalance   = errors.New("claimable balance is not positive")
	ErrBatchLimitReached    = errors.New("daily withdrawal batch limit reached")
)
