package marketplace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/internal/chain"
	"github.com/Francklinok/easyrent-defi-core/internal/config"
	"github.com/Francklinok/easyrent-defi-core/internal/ledger"
	"github.com/Francklinok/easyrent-defi-core/internal/notifications"
	"github.com/Francklinok/easyrent-defi-core/pkg/ids"
	"github.com/Francklinok/easyrent-defi-core/pkg/locks"
	"github.com/Francklinok/easyrent-defi-core/pkg/workflows"
)

const (
	casRetries    = 3
	amountEpsilon = 1e-9
	sweepBatch    = 100
)

// AssetLedger is the slice of the ownership ledger the marketplace needs.
type AssetLedger interface {
	GetAsset(ctx context.Context, assetID string) (*ledger.TokenizedAsset, error)
	EnableTrading(ctx context.Context, assetID string) error
	Transfer(ctx context.Context, assetID, from, to string, units, unitPrice float64) error
	RecordPrice(ctx context.Context, assetID string, price float64) error
}

// Service implements listing, bidding and settlement for the marketplace.
type Service struct {
	repo    Repository
	ledger  AssetLedger
	chain   chain.Executor
	events  notifications.Sink
	machine *workflows.StateMachine
	locks   *locks.KeyedMutex
	ids     ids.Generator
	cfg     config.MarketplaceConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a marketplace service
func NewService(repo Repository, assetLedger AssetLedger, executor chain.Executor, events notifications.Sink, cfg config.MarketplaceConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		ledger:  assetLedger,
		chain:   executor,
		events:  events,
		machine: workflows.NewListingStateMachine(),
		locks:   locks.NewKeyedMutex(),
		ids:     ids.NewUUIDGenerator(),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateListing offers units of an asset for sale. The seller must hold at
// least the listed quantity. The first listing of an asset enables trading
// on it.
func (s *Service) CreateListing(ctx context.Context, sellerID string, req *CreateListingRequest) (*Listing, error) {
	switch req.Kind {
	case ListingKindFixed, ListingKindAuction, ListingKindDutch:
	default:
		return nil, fmt.Errorf("unknown listing kind %q", req.Kind)
	}

	asset, err := s.ledger.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}

	holder := asset.Record(sellerID)
	if holder == nil || holder.UnitsOwned < req.Quantity {
		return nil, fmt.Errorf("seller %s on asset %s: %w", sellerID, req.AssetID, ErrInsufficientHoldings)
	}

	if !asset.TradingEnabled {
		count, err := s.repo.CountForAsset(ctx, req.AssetID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, fmt.Errorf("asset %s: %w", req.AssetID, ErrTradingDisabled)
		}
		if err := s.ledger.EnableTrading(ctx, req.AssetID); err != nil {
			return nil, fmt.Errorf("failed to enable trading: %w", err)
		}
	}

	duration := s.cfg.DefaultListingDuration
	if req.DurationDays > 0 {
		duration = time.Duration(req.DurationDays) * 24 * time.Hour
	}

	now := s.now()
	listing := &Listing{
		ID:           s.ids.NewID().String(),
		SellerID:     sellerID,
		AssetID:      req.AssetID,
		Quantity:     req.Quantity,
		PricePerUnit: req.PricePerUnit,
		Kind:         req.Kind,
		Status:       ListingStatusActive,
		MinimumBid:   req.MinimumBid,
		ExpiresAt:    now.Add(duration),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateListing(ctx, listing); err != nil {
		return nil, err
	}

	s.logger.Info("Listing created",
		zap.String("listing_id", listing.ID),
		zap.String("asset_id", listing.AssetID),
		zap.String("kind", string(listing.Kind)))

	s.events.Publish(ctx, notifications.Event{
		Type:       notifications.EventListingCreated,
		UserID:     sellerID,
		AssetID:    listing.AssetID,
		ListingID:  listing.ID,
		Amount:     listing.PricePerUnit,
		OccurredAt: now,
	})

	return listing, nil
}

// GetListing loads a listing, applying lazy expiry first.
func (s *Service) GetListing(ctx context.Context, listingID string) (*Listing, error) {
	s.locks.Lock(listingID)
	defer s.locks.Unlock(listingID)

	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.ExpiredAt(s.now()) {
		return s.expire(ctx, listing)
	}
	return listing, nil
}

// ListByAsset returns listings for an asset, optionally filtered by status.
func (s *Service) ListByAsset(ctx context.Context, assetID string, status ListingStatus) ([]Listing, error) {
	return s.repo.ListByAsset(ctx, assetID, status)
}

// ListTrades returns the most recent executed trades for an asset.
func (s *Service) ListTrades(ctx context.Context, assetID string, limit int) ([]TradeTick, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListTrades(ctx, assetID, limit)
}

// PlaceBid records a bid on an active listing. Payment is escrowed before
// the bid becomes visible. A matching fixed-price bid fills the listing in
// the same call.
func (s *Service) PlaceBid(ctx context.Context, listingID, bidderID string, amount float64) (*Bid, error) {
	s.locks.Lock(listingID)
	defer s.locks.Unlock(listingID)

	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.ExpiredAt(s.now()) {
		if _, err := s.expire(ctx, listing); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("listing %s: %w", listingID, ErrListingNotActive)
	}

	autoAccept, err := s.admitBid(listing, amount)
	if err != nil {
		return nil, err
	}

	bid := Bid{
		ID:        s.ids.NewID().String(),
		ListingID: listing.ID,
		BidderID:  bidderID,
		Amount:    amount,
		Status:    BidStatusActive,
		PlacedAt:  s.now(),
	}

	escrowRef, err := s.chain.OpenEscrow(ctx, chain.EscrowParams{
		ListingID: listing.ID,
		BidID:     bid.ID,
		PayerID:   bidderID,
		Amount:    amount * listing.Quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to escrow bid payment: %w", err)
	}
	bid.EscrowRef = escrowRef

	// The bid is re-admitted against the stored state on every write
	// attempt, so a bid committed by another instance in the meantime
	// is never lost and never underbid.
	updated, err := s.mutateListing(ctx, listing.ID, func(l *Listing) error {
		if _, err := s.admitBid(l, amount); err != nil {
			return err
		}
		l.Bids = append(l.Bids, bid)
		return nil
	})
	if err != nil {
		if relErr := s.chain.ReleaseEscrow(ctx, escrowRef, bidderID); relErr != nil {
			s.logger.Error("Failed to refund escrow for unrecorded bid",
				zap.String("listing_id", listing.ID),
				zap.String("escrow_ref", escrowRef),
				zap.Error(relErr))
		}
		return nil, err
	}

	s.logger.Info("Bid placed",
		zap.String("listing_id", updated.ID),
		zap.String("bid_id", bid.ID),
		zap.Float64("amount", amount))

	s.events.Publish(ctx, notifications.Event{
		Type:       notifications.EventBidPlaced,
		UserID:     updated.SellerID,
		AssetID:    updated.AssetID,
		ListingID:  updated.ID,
		BidID:      bid.ID,
		Amount:     amount,
		OccurredAt: bid.PlacedAt,
	})

	if autoAccept {
		if updated, err = s.fill(ctx, updated, bid.ID); err != nil {
			return nil, err
		}
	}

	placed := updated.Bid(bid.ID)
	result := *placed
	return &result, nil
}

// admitBid checks the listing can take a bid of the given amount.
func (s *Service) admitBid(listing *Listing, amount float64) (autoAccept bool, err error) {
	if listing.ExpiredAt(s.now()) || listing.Status != ListingStatusActive {
		return false, fmt.Errorf("listing %s is %s: %w", listing.ID, listing.Status, ErrListingNotActive)
	}

	switch listing.Kind {
	case ListingKindAuction:
		floor := listing.MinimumBid
		if highest := listing.HighestActiveBid(); highest != nil && highest.Amount > floor {
			floor = highest.Amount
		}
		if amount <= floor {
			return false, fmt.Errorf("bid %f must exceed %f: %w", amount, floor, ErrBidTooLow)
		}
		return false, nil
	default: // fixed and dutch fill at the current asking price
		if math.Abs(amount-listing.PricePerUnit) > amountEpsilon {
			return false, fmt.Errorf("bid %f must equal asking price %f: %w", amount, listing.PricePerUnit, ErrBidTooLow)
		}
		return true, nil
	}
}

// AcceptBid lets the seller settle the listing against one active bid.
func (s *Service) AcceptBid(ctx context.Context, listingID, bidID, callerID string) error {
	s.locks.Lock(listingID)
	defer s.locks.Unlock(listingID)

	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.ExpiredAt(s.now()) {
		if _, err := s.expire(ctx, listing); err != nil {
			return err
		}
		return fmt.Errorf("listing %s: %w", listingID, ErrListingNotActive)
	}
	if listing.Status != ListingStatusActive {
		return fmt.Errorf("listing %s is %s: %w", listingID, listing.Status, ErrListingNotActive)
	}
	if listing.SellerID != callerID {
		return fmt.Errorf("user %s on listing %s: %w", callerID, listingID, ErrNotSeller)
	}

	bid := listing.Bid(bidID)
	if bid == nil {
		return fmt.Errorf("bid %s on listing %s: %w", bidID, listingID, ErrBidNotFound)
	}
	if bid.Status != BidStatusActive {
		return fmt.Errorf("bid %s is %s: %w", bidID, bid.Status, ErrBidNotFound)
	}

	_, err = s.fill(ctx, listing, bidID)
	return err
}

// CancelListing withdraws an active listing and refunds every active bid.
func (s *Service) CancelListing(ctx context.Context, listingID, callerID string) error {
	s.locks.Lock(listingID)
	defer s.locks.Unlock(listingID)

	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.ExpiredAt(s.now()) {
		if _, err := s.expire(ctx, listing); err != nil {
			return err
		}
		return fmt.Errorf("listing %s: %w", listingID, ErrListingNotActive)
	}
	if listing.Status != ListingStatusActive {
		return fmt.Errorf("listing %s is %s: %w", listingID, listing.Status, ErrListingNotActive)
	}
	if listing.SellerID != callerID {
		return fmt.Errorf("user %s on listing %s: %w", callerID, listingID, ErrNotSeller)
	}

	if _, err := s.closeListing(ctx, listingID, ListingStatusCancelled); err != nil {
		return err
	}

	s.events.Publish(ctx, notifications.Event{
		Type:       notifications.EventListingCancelled,
		UserID:     listing.SellerID,
		AssetID:    listing.AssetID,
		ListingID:  listing.ID,
		OccurredAt: s.now(),
	})
	return nil
}

// SweepExpired persists the expired status for every active listing whose
// deadline has passed. Bids on swept listings are refunded. Returns the
// number of listings expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.repo.ExpiredListingIDs(ctx, s.now(), sweepBatch)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		if err := s.sweepOne(ctx, id); err != nil {
			s.logger.Warn("Failed to expire listing", zap.String("listing_id", id), zap.Error(err))
			continue
		}
		swept++
	}
	return swept, nil
}

func (s *Service) sweepOne(ctx context.Context, listingID string) error {
	s.locks.Lock(listingID)
	defer s.locks.Unlock(listingID)

	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if !listing.ExpiredAt(s.now()) {
		return nil
	}
	_, err = s.expire(ctx, listing)
	return err
}

// RetrySettlements re-releases escrow payouts that failed after a fill.
// Returns the number of listings settled.
func (s *Service) RetrySettlements(ctx context.Context) (int, error) {
	ids, err := s.repo.PendingSettlementIDs(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, id := range ids {
		if err := s.settleOne(ctx, id); err != nil {
			s.logger.Warn("Failed to settle escrow", zap.String("listing_id", id), zap.Error(err))
			continue
		}
		settled++
	}
	return settled, nil
}

func (s *Service) settleOne(ctx context.Context, listingID string) error {
	s.locks.Lock(listingID)
	defer s.locks.Unlock(listingID)

	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.PendingEscrowRef == "" {
		return nil
	}

	if err := s.chain.ReleaseEscrow(ctx, listing.PendingEscrowRef, listing.PendingRecipient); err != nil {
		return fmt.Errorf("failed to release escrow: %w", err)
	}

	_, err = s.mutateListing(ctx, listingID, func(l *Listing) error {
		l.PendingEscrowRef = ""
		l.PendingRecipient = ""
		return nil
	})
	return err
}

// fill settles the listing against the winning bid. Effects are ordered so
// a partial failure never leaves payment released without units moved:
// ledger transfer first, then the status commit, then escrow release,
// refunds, the trade tick and the price update. The commit marks the
// winning escrow pending; a failed payout stays marked for RetrySettlements.
func (s *Service) fill(ctx context.Context, listing *Listing, winningBidID string) (*Listing, error) {
	winning := listing.Bid(winningBidID)

	if err := s.ledger.Transfer(ctx, listing.AssetID, listing.SellerID, winning.BidderID, listing.Quantity, winning.Amount); err != nil {
		return nil, fmt.Errorf("failed to transfer units: %w", err)
	}

	var refunds []Bid
	updated, err := s.mutateListing(ctx, listing.ID, func(l *Listing) error {
		refunds = nil
		w := l.Bid(winningBidID)
		if w == nil || w.Status != BidStatusActive {
			return fmt.Errorf("bid %s on listing %s: %w", winningBidID, l.ID, ErrBidNotFound)
		}
		if !s.machine.CanTransition(string(l.Status), string(ListingStatusFilled)) {
			return fmt.Errorf("listing %s is %s: %w", l.ID, l.Status, ErrListingNotActive)
		}
		l.Status = ListingStatusFilled
		w.Status = BidStatusAccepted
		l.PendingEscrowRef = w.EscrowRef
		l.PendingRecipient = l.SellerID
		for i := range l.Bids {
			b := &l.Bids[i]
			if b.ID != winningBidID && b.Status == BidStatusActive {
				b.Status = BidStatusRejected
				refunds = append(refunds, *b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	winning = updated.Bid(winningBidID)

	if err := s.chain.ReleaseEscrow(ctx, winning.EscrowRef, updated.SellerID); err != nil {
		s.logger.Error("Failed to release escrow to seller, settlement queued",
			zap.String("listing_id", updated.ID),
			zap.String("escrow_ref", winning.EscrowRef),
			zap.Error(err))
	} else if cleared, err := s.mutateListing(ctx, updated.ID, func(l *Listing) error {
		l.PendingEscrowRef = ""
		l.PendingRecipient = ""
		return nil
	}); err != nil {
		s.logger.Warn("Failed to clear settled escrow marker",
			zap.String("listing_id", updated.ID), zap.Error(err))
	} else {
		updated = cleared
	}

	s.refundBids(ctx, updated.ID, refunds)

	executedAt := s.now()
	tick := &TradeTick{
		ID:         s.ids.NewID().String(),
		AssetID:    updated.AssetID,
		ListingID:  updated.ID,
		Price:      winning.Amount,
		Quantity:   updated.Quantity,
		SellerID:   updated.SellerID,
		BuyerID:    winning.BidderID,
		ExecutedAt: executedAt,
	}
	if err := s.repo.RecordTrade(ctx, tick); err != nil {
		s.logger.Error("Failed to record trade tick", zap.String("listing_id", updated.ID), zap.Error(err))
	}
	if err := s.ledger.RecordPrice(ctx, updated.AssetID, winning.Amount); err != nil {
		s.logger.Error("Failed to record trade price", zap.String("asset_id", updated.AssetID), zap.Error(err))
	}

	s.logger.Info("Listing filled",
		zap.String("listing_id", updated.ID),
		zap.String("bid_id", winning.ID),
		zap.Float64("price", winning.Amount),
		zap.Float64("quantity", updated.Quantity))

	s.events.Publish(ctx, notifications.Event{
		Type:       notifications.EventBidAccepted,
		UserID:     winning.BidderID,
		AssetID:    updated.AssetID,
		ListingID:  updated.ID,
		BidID:      winning.ID,
		Amount:     winning.Amount,
		OccurredAt: executedAt,
	})
	return updated, nil
}

// expire moves an active listing past its deadline to expired and refunds
// its bids.
func (s *Service) expire(ctx context.Context, listing *Listing) (*Listing, error) {
	updated, err := s.closeListing(ctx, listing.ID, ListingStatusExpired)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, notifications.Event{
		Type:       notifications.EventListingExpired,
		UserID:     updated.SellerID,
		AssetID:    updated.AssetID,
		ListingID:  updated.ID,
		OccurredAt: s.now(),
	})
	return updated, nil
}

// closeListing transitions the listing to a terminal status, cancels its
// active bids and refunds their escrow.
func (s *Service) closeListing(ctx context.Context, listingID string, status ListingStatus) (*Listing, error) {
	var refunds []Bid
	updated, err := s.mutateListing(ctx, listingID, func(l *Listing) error {
		refunds = nil
		if !s.machine.CanTransition(string(l.Status), string(status)) {
			return fmt.Errorf("listing %s cannot go from %s to %s: %w", l.ID, l.Status, status, ErrListingNotActive)
		}
		l.Status = status
		for i := range l.Bids {
			b := &l.Bids[i]
			if b.Status == BidStatusActive {
				b.Status = BidStatusCancelled
				refunds = append(refunds, *b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.refundBids(ctx, updated.ID, refunds)
	return updated, nil
}

// refundBids releases escrowed payments back to their bidders. Failures are
// logged and retried by the sweep, never surfaced to the caller.
func (s *Service) refundBids(ctx context.Context, listingID string, bids []Bid) {
	for _, b := range bids {
		if b.EscrowRef == "" {
			continue
		}
		if err := s.chain.ReleaseEscrow(ctx, b.EscrowRef, b.BidderID); err != nil {
			s.logger.Warn("Failed to refund bid escrow",
				zap.String("listing_id", listingID),
				zap.String("bid_id", b.ID),
				zap.Error(err))
		}
	}
}

// mutateListing loads the listing, applies mutate and writes it back under
// the version check. A conflict re-reads the stored row and re-applies the
// mutation against the fresh state, so a write committed by another
// instance between the read and the write is never lost.
func (s *Service) mutateListing(ctx context.Context, listingID string, mutate func(*Listing) error) (*Listing, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		listing, err := s.repo.GetListing(ctx, listingID)
		if err != nil {
			return nil, err
		}
		if err := mutate(listing); err != nil {
			return nil, err
		}

		lastErr = s.repo.UpdateListing(ctx, listing, listing.Version)
		if lastErr == nil {
			return listing, nil
		}
		if !errors.Is(lastErr, ErrVersionConflict) {
			return nil, lastErr
		}
		s.logger.Debug("Concurrent listing update, retrying",
			zap.String("listing_id", listingID),
			zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("listing %s: %w", listingID, lastErr)
}
