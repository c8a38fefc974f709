package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/biosmarket/settlement/internal/domain/enums"
	"github.com/biosmarket/settlement/internal/domain/model"
)

const BasisPointsDenominator = 10000

type RemainderPolicy string

const (
	// RemainderFirstRecipients hands one extra unit to each of the first
	// (distributable mod n) recipients in snapshot order.
	RemainderFirstRecipients RemainderPolicy = "first_recipients"
	// RemainderPlatform leaves the division remainder with the platform.
	RemainderPlatform RemainderPolicy = "platform"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidFeeBps     = errors.New("fee bps must be within [0, 10000]")
	ErrInvalidTargetType = errors.New("invalid target type")
	ErrMissingOwner      = errors.New("listing owner is required")
)

func ParseRemainderPolicy(raw string) (RemainderPolicy, error) {
	switch RemainderPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RemainderFirstRecipients:
		return RemainderFirstRecipients, nil
	case RemainderPlatform:
		return RemainderPlatform, nil
	default:
		return "", fmt.Errorf("unknown remainder policy %q", raw)
	}
}

type Share struct {
	RecipientID    string
	ContributionID string
	Amount         int64
}

type DistributionInput struct {
	Amount     int64
	FeeBps     int64
	TargetType enums.TargetType
	Owner      string
	// Contributors must already be filtered to active memberships and ordered.
	Contributors []model.Recipient
	Remainder    RemainderPolicy
}

type Distribution struct {
	Fee           int64
	Distributable int64
	Shares        []Share
	// Undistributed is kept by the platform on top of Fee: the division
	// remainder under RemainderPlatform, or everything when nobody is active.
	Undistributed int64
	// Empty marks a dataset purchase with no active contributors.
	Empty bool
}

func (d Distribution) SharesTotal() int64 {
	var total int64
	for _, s := range d.Shares {
		total += s.Amount
	}
	return total
}

// PlatformFee is floor(amount*feeBps/10000), split so the product cannot overflow.
func PlatformFee(amount, feeBps int64) int64 {
	whole := amount / BasisPointsDenominator
	rest := amount % BasisPointsDenominator
	return whole*feeBps + rest*feeBps/BasisPointsDenominator
}

func Distribute(in DistributionInput) (Distribution, error) {
	if in.Amount <= 0 {
		return Distribution{}, ErrInvalidAmount
	}
	if in.FeeBps < 0 || in.FeeBps > BasisPointsDenominator {
		return Distribution{}, ErrInvalidFeeBps
	}

	fee := PlatformFee(in.Amount, in.FeeBps)
	out := Distribution{
		Fee:           fee,
		Distributable: in.Amount - fee,
	}

	switch in.TargetType {
	case enums.TargetTypeListing:
		owner := strings.TrimSpace(in.Owner)
		if owner == "" {
			return Distribution{}, ErrMissingOwner
		}
		out.Shares = []Share{{RecipientID: owner, Amount: out.Distributable}}
		return out, nil
	case enums.TargetTypeDataset:
		return splitEqually(out, in.Contributors, in.Remainder), nil
	default:
		return Distribution{}, ErrInvalidTargetType
	}
}

func splitEqually(out Distribution, contributors []model.Recipient, policy RemainderPolicy) Distribution {
	n := int64(len(contributors))
	if n == 0 {
		out.Empty = true
		out.Undistributed = out.Distributable
		return out
	}

	per := out.Distributable / n
	remainder := out.Distributable % n
	if policy == RemainderPlatform {
		out.Undistributed = remainder
		remainder = 0
	}

	out.Shares = make([]Share, 0, n)
	for i, c := range contributors {
		amount := per
		if int64(i) < remainder {
			amount++
		}
		out.Shares = append(out.Shares, Share{
			RecipientID:    c.RecipientID,
			ContributionID: c.ContributionID,
			Amount:         amount,
		})
	}
	return out
}
