package marketplace

import (
	"time"
)

// ListingKind describes how a listing is priced.
type ListingKind string

const (
	ListingKindFixed   ListingKind = "fixed"
	ListingKindAuction ListingKind = "auction"
	ListingKindDutch   ListingKind = "dutch"
)

// ListingStatus values follow the listing state machine.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusFilled    ListingStatus = "filled"
	ListingStatusCancelled ListingStatus = "cancelled"
	ListingStatusExpired   ListingStatus = "expired"
)

// BidStatus tracks the lifecycle of a bid on a listing.
type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusRejected  BidStatus = "rejected"
	BidStatusCancelled BidStatus = "cancelled"
)

// Bid is an offer on a listing. Amount is the per-unit price offered for
// the full listed quantity; the escrowed payment is Amount * Quantity.
type Bid struct {
	ID        string    `db:"id" json:"id"`
	ListingID string    `db:"listing_id" json:"listing_id"`
	BidderID  string    `db:"bidder_id" json:"bidder_id"`
	Amount    float64   `db:"amount" json:"amount"`
	Status    BidStatus `db:"status" json:"status"`
	EscrowRef string    `db:"escrow_ref" json:"escrow_ref"`
	PlacedAt  time.Time `db:"placed_at" json:"placed_at"`
}

// Listing is a sale offer for units of a tokenized asset. A listing fills
// at most once, for its full quantity.
type Listing struct {
	ID           string        `db:"id" json:"id"`
	SellerID     string        `db:"seller_id" json:"seller_id"`
	AssetID      string        `db:"asset_id" json:"asset_id"`
	Quantity     float64       `db:"quantity" json:"quantity"`
	PricePerUnit float64       `db:"price_per_unit" json:"price_per_unit"`
	Kind         ListingKind   `db:"kind" json:"kind"`
	Status       ListingStatus `db:"status" json:"status"`
	MinimumBid   float64       `db:"minimum_bid" json:"minimum_bid"`
	ExpiresAt    time.Time     `db:"expires_at" json:"expires_at"`
	// PendingEscrowRef marks a filled listing whose payout has not reached
	// PendingRecipient yet. Housekeeping re-releases it idempotently.
	PendingEscrowRef string    `db:"pending_escrow_ref" json:"pending_escrow_ref,omitempty"`
	PendingRecipient string    `db:"pending_recipient" json:"pending_recipient,omitempty"`
	Bids             []Bid     `db:"-" json:"bids,omitempty"`
	Version          int64     `db:"version" json:"version"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Bid returns the bid with the given ID, or nil.
func (l *Listing) Bid(bidID string) *Bid {
	for i := range l.Bids {
		if l.Bids[i].ID == bidID {
			return &l.Bids[i]
		}
	}
	return nil
}

// HighestActiveBid returns the active bid with the largest amount, or nil
// when no active bids exist.
func (l *Listing) HighestActiveBid() *Bid {
	var highest *Bid
	for i := range l.Bids {
		b := &l.Bids[i]
		if b.Status != BidStatusActive {
			continue
		}
		if highest == nil || b.Amount > highest.Amount {
			highest = b
		}
	}
	return highest
}

// ExpiredAt reports whether the listing's deadline has passed at t.
func (l *Listing) ExpiredAt(t time.Time) bool {
	return l.Status == ListingStatusActive && !l.ExpiresAt.IsZero() && t.After(l.ExpiresAt)
}

// TradeTick records one executed fill. Price is per unit.
type TradeTick struct {
	ID         string    `db:"id" json:"id"`
	AssetID    string    `db:"asset_id" json:"asset_id"`
	ListingID  string    `db:"listing_id" json:"listing_id"`
	Price      float64   `db:"price" json:"price"`
	Quantity   float64   `db:"quantity" json:"quantity"`
	SellerID   string    `db:"seller_id" json:"seller_id"`
	BuyerID    string    `db:"buyer_id" json:"buyer_id"`
	ExecutedAt time.Time `db:"executed_at" json:"executed_at"`
}

// CreateListingRequest is the payload for creating a listing.
type CreateListingRequest struct {
	AssetID      string      `json:"asset_id" binding:"required"`
	Quantity     float64     `json:"quantity" binding:"required,gt=0"`
	PricePerUnit float64     `json:"price_per_unit" binding:"required,gt=0"`
	Kind         ListingKind `json:"kind" binding:"required"`
	MinimumBid   float64     `json:"minimum_bid"`
	DurationDays int         `json:"duration_days"`
}

// PlaceBidRequest is the payload for bidding on a listing.
type PlaceBidRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}
