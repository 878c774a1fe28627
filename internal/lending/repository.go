package lending

import (
	"context"
	"errors"
)

var (
	// ErrPoolNotFound is returned when a pool ID does not exist.
	ErrPoolNotFound = errors.New("lending pool not found")
	// ErrPositionNotFound is returned when a position ID does not exist.
	ErrPositionNotFound = errors.New("position not found")
	// ErrPositionNotActive is returned for writes against a closed or
	// liquidated position.
	ErrPositionNotActive = errors.New("position is not active")
	// ErrNotOwner is returned when a user operates on someone else's
	// position.
	ErrNotOwner = errors.New("caller does not own the position")
	// ErrInsufficientCollateral is returned when collateral does not cover
	// the requested borrow at the pool's collateral factor.
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	// ErrInsufficientLiquidity is returned when the pool cannot fund the
	// requested amount.
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	// ErrOverRepayment is returned when a repayment exceeds the
	// outstanding debt.
	ErrOverRepayment = errors.New("repayment exceeds outstanding debt")
	// ErrNotLiquidatable is returned when a position's live health factor
	// is at or above 1.0.
	ErrNotLiquidatable = errors.New("position is not liquidatable")
	// ErrVersionConflict signals a concurrent update detected by the
	// compare-and-swap write.
	ErrVersionConflict = errors.New("lending version conflict")
)

// Repository persists lending pools and positions.
type Repository interface {
	CreatePool(ctx context.Context, pool *LendingPool) error
	GetPool(ctx context.Context, poolID string) (*LendingPool, error)
	// UpdatePool writes the pool if the stored version matches
	// expectedVersion, returning ErrVersionConflict otherwise.
	UpdatePool(ctx context.Context, pool *LendingPool, expectedVersion int64) error
	ListPools(ctx context.Context) ([]LendingPool, error)

	CreatePosition(ctx context.Context, position *Position) error
	GetPosition(ctx context.Context, positionID string) (*Position, error)
	UpdatePosition(ctx context.Context, position *Position, expectedVersion int64) error
	// FindActivePosition returns the user's active position of the given
	// kind in a pool, or nil when none exists.
	FindActivePosition(ctx context.Context, userID, poolID string, kind PositionKind) (*Position, error)
	ListUserPositions(ctx context.Context, userID string) ([]Position, error)
}
