package revenue

import (
	"context"
	"errors"
)

var (
	// ErrDistributionExists is returned when an asset already has a
	// distribution for the period.
	ErrDistributionExists = errors.New("distribution already recorded for period")
	// ErrShareSumMismatch is returned when the computed shares do not sum
	// to the distributable amount.
	ErrShareSumMismatch = errors.New("shares do not sum to distributable amount")
)

// Repository persists distribution history.
type Repository interface {
	CreateDistribution(ctx context.Context, distribution *Distribution) error
	ListByAsset(ctx context.Context, assetID string) ([]Distribution, error)
}
