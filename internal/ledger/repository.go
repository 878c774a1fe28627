package ledger

import (
	"context"
	"errors"
)

// Ledger errors.
var (
	// ErrAssetNotFound is returned for an unknown asset ID.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrAssetExists is returned when minting an already-minted asset.
	ErrAssetExists = errors.New("asset already minted")
	// ErrInsufficientUnits is returned when a sender holds fewer units than
	// the transfer requests.
	ErrInsufficientUnits = errors.New("insufficient units")
	// ErrPercentageInvariant signals an internal consistency failure. It is
	// never a user error: the asset is halted and operators alerted.
	ErrPercentageInvariant = errors.New("ownership percentage invariant violated")
	// ErrAssetHalted is returned for writes against a halted asset.
	ErrAssetHalted = errors.New("asset halted")
	// ErrVersionConflict is returned when a compare-and-swap update lost the
	// race. Callers retry the whole read-modify-write sequence.
	ErrVersionConflict = errors.New("version conflict")
)

// Repository persists tokenized assets with optimistic versioning.
// UpdateAsset commits only when the stored version still matches
// expectedVersion; otherwise it returns ErrVersionConflict and the caller
// must re-read and retry.
type Repository interface {
	GetAsset(ctx context.Context, assetID string) (*TokenizedAsset, error)
	CreateAsset(ctx context.Context, asset *TokenizedAsset) error
	UpdateAsset(ctx context.Context, asset *TokenizedAsset, expectedVersion int64) error
}
