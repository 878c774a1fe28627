package staking

import (
	"context"
	"errors"
)

var (
	// ErrPoolNotFound is returned when a pool ID does not exist.
	ErrPoolNotFound = errors.New("staking pool not found")
	// ErrPositionNotFound is returned when a stake ID does not exist.
	ErrPositionNotFound = errors.New("stake position not found")
	// ErrPositionNotActive is returned for writes against a closed stake.
	ErrPositionNotActive = errors.New("stake position is not active")
	// ErrBelowMinimumStake is returned when the amount is below the pool's
	// minimum.
	ErrBelowMinimumStake = errors.New("amount below pool minimum stake")
	// ErrInvalidLockup is returned when the lockup does not match any
	// configured tier.
	ErrInvalidLockup = errors.New("lockup does not match a configured tier")
	// ErrLockupActive is returned when unstaking before the lockup ends.
	ErrLockupActive = errors.New("lockup period has not ended")
	// ErrNotOwner is returned when a user operates on someone else's stake.
	ErrNotOwner = errors.New("caller does not own the stake")
	// ErrVersionConflict signals a concurrent update detected by the
	// compare-and-swap write.
	ErrVersionConflict = errors.New("staking version conflict")
)

// Repository persists staking pools and stake positions.
type Repository interface {
	CreatePool(ctx context.Context, pool *StakingPool) error
	GetPool(ctx context.Context, poolID string) (*StakingPool, error)
	// UpdatePool writes the pool if the stored version matches
	// expectedVersion, returning ErrVersionConflict otherwise.
	UpdatePool(ctx context.Context, pool *StakingPool, expectedVersion int64) error
	ListPools(ctx context.Context) ([]StakingPool, error)

	CreatePosition(ctx context.Context, position *StakePosition) error
	GetPosition(ctx context.Context, positionID string) (*StakePosition, error)
	UpdatePosition(ctx context.Context, position *StakePosition, expectedVersion int64) error
	ListUserPositions(ctx context.Context, userID string) ([]StakePosition, error)
}
