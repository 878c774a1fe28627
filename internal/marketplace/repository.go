package marketplace

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrListingNotFound is returned when a listing ID does not exist.
	ErrListingNotFound = errors.New("listing not found")
	// ErrListingNotActive is returned for writes against a filled,
	// cancelled or expired listing.
	ErrListingNotActive = errors.New("listing is not active")
	// ErrBidNotFound is returned when a bid ID does not exist on the listing.
	ErrBidNotFound = errors.New("bid not found")
	// ErrBidTooLow is returned when a bid does not clear the listing's
	// acceptance rule.
	ErrBidTooLow = errors.New("bid amount too low")
	// ErrNotSeller is returned when someone other than the seller attempts
	// a seller-only operation.
	ErrNotSeller = errors.New("caller is not the listing seller")
	// ErrInsufficientHoldings is returned when the seller does not hold the
	// listed quantity.
	ErrInsufficientHoldings = errors.New("seller holdings below listed quantity")
	// ErrTradingDisabled is returned when listing an asset whose trading
	// was explicitly disabled after its first listing.
	ErrTradingDisabled = errors.New("trading disabled for asset")
	// ErrVersionConflict signals a concurrent update detected by the
	// compare-and-swap write.
	ErrVersionConflict = errors.New("listing version conflict")
)

// Repository persists listings, their bids, and executed trades.
type Repository interface {
	CreateListing(ctx context.Context, listing *Listing) error
	// GetListing loads a listing with all of its bids.
	GetListing(ctx context.Context, listingID string) (*Listing, error)
	// UpdateListing writes the listing and its bids if the stored version
	// matches expectedVersion, returning ErrVersionConflict otherwise.
	UpdateListing(ctx context.Context, listing *Listing, expectedVersion int64) error
	ListByAsset(ctx context.Context, assetID string, status ListingStatus) ([]Listing, error)
	CountForAsset(ctx context.Context, assetID string) (int, error)
	// ExpiredListingIDs returns active listings whose deadline passed
	// before asOf.
	ExpiredListingIDs(ctx context.Context, asOf time.Time, limit int) ([]string, error)
	// PendingSettlementIDs returns listings carrying an unsettled escrow
	// payout.
	PendingSettlementIDs(ctx context.Context, limit int) ([]string, error)
	RecordTrade(ctx context.Context, tick *TradeTick) error
	ListTrades(ctx context.Context, assetID string, limit int) ([]TradeTick, error)
}
