package chain

import (
	"context"
	"errors"
)

// ErrSettlementFailed is returned when the chain executor could not settle
// an operation after the configured retries.
var ErrSettlementFailed = errors.New("settlement failed")

// Executor records settlements on chain. Implementations are expected to be
// idempotent-retriable by reference: retrying a call that already succeeded
// returns the original reference rather than an error.
type Executor interface {
	// Transfer settles a unit transfer and returns the transaction reference.
	Transfer(ctx context.Context, assetID, from, to string, units float64) (string, error)
	// OpenEscrow places a hold on bidder funds and returns the escrow reference.
	OpenEscrow(ctx context.Context, params EscrowParams) (string, error)
	// ReleaseEscrow releases a held escrow to the recipient.
	ReleaseEscrow(ctx context.Context, escrowRef, recipient string) error
}

// EscrowParams describes an escrow hold.
type EscrowParams struct {
	ListingID string  `json:"listing_id"`
	BidID     string  `json:"bid_id"`
	PayerID   string  `json:"payer_id"`
	Amount    float64 `json:"amount"`
}
