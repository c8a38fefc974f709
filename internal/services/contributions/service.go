// Package contributions manages dataset membership. Each write keeps the
// dataset's total_contributions equal to its active memberships.
package contributions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/biosmarket/settlement/internal/domain/model"
	"github.com/biosmarket/settlement/internal/infra/logger"
	"github.com/biosmarket/settlement/internal/repo"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrDatasetNotFound      = errors.New("dataset not found")
	ErrListingNotFound      = errors.New("listing not found")
	ErrContributionNotFound = errors.New("contribution not found")
	ErrDatasetClosed        = errors.New("dataset is not accepting contributions")
	ErrUnauthorized         = errors.New("listing belongs to another user")
	ErrAlreadyContributed   = errors.New("listing already contributed to dataset")
)

type MembershipStore interface {
	Contribute(ctx context.Context, datasetID, contributorID, listingID string, now time.Time) (model.Contribution, bool, error)
	Revoke(ctx context.Context, datasetID, contributorID, listingID string, now time.Time) (model.Contribution, error)
}

type Dependencies struct {
	Store  MembershipStore
	Logger *zap.Logger
}

type Service struct {
	store MembershipStore
	log   *zap.Logger
	now   func() time.Time
}

type Input struct {
	DatasetID     string
	ContributorID string
	ListingID     string
}

type ContributeResult struct {
	Contribution model.Contribution
	Reactivated  bool
}

func NewService(deps Dependencies) *Service {
	return &Service{
		store: deps.Store,
		log:   logger.OrNop(deps.Logger),
		now:   time.Now,
	}
}

func (s *Service) Contribute(ctx context.Context, in Input) (ContributeResult, error) {
	in, err := normalize(in)
	if err != nil {
		return ContributeResult{}, err
	}

	contribution, reactivated, err := s.store.Contribute(ctx, in.DatasetID, in.ContributorID, in.ListingID, s.now().UTC())
	if err != nil {
		return ContributeResult{}, mapStoreError(err, "contribute")
	}

	s.log.Info("dataset contribution added",
		zap.String("dataset_id", in.DatasetID),
		zap.String("contributor_id", in.ContributorID),
		zap.String("listing_id", in.ListingID),
		zap.Bool("reactivated", reactivated),
	)
	return ContributeResult{Contribution: contribution, Reactivated: reactivated}, nil
}

func (s *Service) Revoke(ctx context.Context, in Input) (model.Contribution, error) {
	in, err := normalize(in)
	if err != nil {
		return model.Contribution{}, err
	}

	contribution, err := s.store.Revoke(ctx, in.DatasetID, in.ContributorID, in.ListingID, s.now().UTC())
	if err != nil {
		return model.Contribution{}, mapStoreError(err, "revoke")
	}

	s.log.Info("dataset contribution revoked",
		zap.String("dataset_id", in.DatasetID),
		zap.String("contributor_id", in.ContributorID),
		zap.String("listing_id", in.ListingID),
	)
	return contribution, nil
}

func normalize(in Input) (Input, error) {
	in.DatasetID = strings.TrimSpace(in.DatasetID)
	in.ContributorID = strings.TrimSpace(in.ContributorID)
	in.ListingID = strings.TrimSpace(in.ListingID)
	if in.DatasetID == "" || in.ContributorID == "" || in.ListingID == "" {
		return Input{}, ErrValidation
	}
	return in, nil
}

func mapStoreError(err error, op string) error {
	switch {
	case errors.Is(err, repo.ErrDatasetNotFound):
		return ErrDatasetNotFound
	case errors.Is(err, repo.ErrListingNotFound):
		return ErrListingNotFound
	case errors.Is(err, repo.ErrContributionNotFound):
		return ErrContributionNotFound
	case errors.Is(err, repo.ErrDatasetClosed):
		return ErrDatasetClosed
	case errors.Is(err, repo.ErrListingNotOwned):
		return ErrUnauthorized
	case errors.Is(err, repo.ErrContributionExists):
		return ErrAlreadyContributed
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
