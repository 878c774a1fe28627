package notifications

import (
	"context"
	"time"
)

// Domain event types pushed to the notification sink.
const (
	EventListingCreated     = "listing.created"
	EventBidPlaced          = "bid.placed"
	EventBidAccepted        = "bid.accepted"
	EventListingCancelled   = "listing.cancelled"
	EventListingExpired     = "listing.expired"
	EventPositionOpened     = "position.opened"
	EventPositionLiquidated = "position.liquidated"
	EventRewardsClaimed     = "rewards.claimed"
	EventRevenueDistributed = "revenue.distributed"
)

// Event carries the minimal identifiers a downstream consumer needs to
// render a user-facing message.
type Event struct {
	Type       string                 `json:"type"`
	UserID     string                 `json:"user_id,omitempty"`
	AssetID    string                 `json:"asset_id,omitempty"`
	ListingID  string                 `json:"listing_id,omitempty"`
	BidID      string                 `json:"bid_id,omitempty"`
	PoolID     string                 `json:"pool_id,omitempty"`
	PositionID string                 `json:"position_id,omitempty"`
	Amount     float64                `json:"amount,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Sink receives domain events. Delivery is fire-and-forget from the
// producer's perspective: Publish never blocks on downstream delivery, and
// the sink owns the at-least-once redelivery of anything it accepted.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// NopSink discards events. Used in tests and tools that do not notify.
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, event Event) {}
