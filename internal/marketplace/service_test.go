package marketplace

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/internal/chain"
	"github.com/Francklinok/easyrent-defi-core/internal/config"
	"github.com/Francklinok/easyrent-defi-core/internal/ledger"
	"github.com/Francklinok/easyrent-defi-core/internal/notifications"
)

// memAssetRepo is an in-memory ledger.Repository so marketplace tests run
// against the real ledger service.
type memAssetRepo struct {
	mu     sync.Mutex
	assets map[string]*ledger.TokenizedAsset
}

func newMemAssetRepo() *memAssetRepo {
	return &memAssetRepo{assets: make(map[string]*ledger.TokenizedAsset)}
}

func cloneAsset(a *ledger.TokenizedAsset) *ledger.TokenizedAsset {
	c := *a
	c.Records = append([]ledger.OwnershipRecord(nil), a.Records...)
	c.PriceHistory = append([]ledger.PricePoint(nil), a.PriceHistory...)
	return &c
}

func (r *memAssetRepo) GetAsset(ctx context.Context, assetID string) (*ledger.TokenizedAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[assetID]
	if !ok {
		return nil, ledger.ErrAssetNotFound
	}
	return cloneAsset(a), nil
}

func (r *memAssetRepo) CreateAsset(ctx context.Context, asset *ledger.TokenizedAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[asset.ID]; ok {
		return ledger.ErrAssetExists
	}
	r.assets[asset.ID] = cloneAsset(asset)
	return nil
}

func (r *memAssetRepo) UpdateAsset(ctx context.Context, asset *ledger.TokenizedAsset, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.assets[asset.ID]
	if !ok {
		return ledger.ErrAssetNotFound
	}
	if current.Version != expectedVersion {
		return ledger.ErrVersionConflict
	}
	stored := cloneAsset(asset)
	stored.Version = expectedVersion + 1
	r.assets[asset.ID] = stored
	asset.Version = stored.Version
	return nil
}

// memListingRepo is an in-memory Repository with real CAS semantics.
// beforeUpdate runs once before the next UpdateListing, outside the store
// lock, to interleave an out-of-band write. failUpdates injects updateErr
// on that many UpdateListing calls.
type memListingRepo struct {
	mu           sync.Mutex
	listings     map[string]*Listing
	trades       []TradeTick
	beforeUpdate func()
	failUpdates  int
	updateErr    error
}

func newMemListingRepo() *memListingRepo {
	return &memListingRepo{listings: make(map[string]*Listing)}
}

func cloneListing(l *Listing) *Listing {
	c := *l
	c.Bids = append([]Bid(nil), l.Bids...)
	return &c
}

func (r *memListingRepo) CreateListing(ctx context.Context, listing *Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings[listing.ID] = cloneListing(listing)
	return nil
}

func (r *memListingRepo) GetListing(ctx context.Context, listingID string) (*Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", listingID, ErrListingNotFound)
	}
	return cloneListing(l), nil
}

func (r *memListingRepo) UpdateListing(ctx context.Context, listing *Listing, expectedVersion int64) error {
	if hook := r.beforeUpdate; hook != nil {
		r.beforeUpdate = nil
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates > 0 {
		r.failUpdates--
		return r.updateErr
	}
	current, ok := r.listings[listing.ID]
	if !ok {
		return ErrListingNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	stored := cloneListing(listing)
	stored.Version = expectedVersion + 1
	r.listings[listing.ID] = stored
	listing.Version = stored.Version
	return nil
}

func (r *memListingRepo) ListByAsset(ctx context.Context, assetID string, status ListingStatus) ([]Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Listing
	for _, l := range r.listings {
		if l.AssetID != assetID {
			continue
		}
		if status != "" && l.Status != status {
			continue
		}
		out = append(out, *cloneListing(l))
	}
	return out, nil
}

func (r *memListingRepo) CountForAsset(ctx context.Context, assetID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, l := range r.listings {
		if l.AssetID == assetID {
			count++
		}
	}
	return count, nil
}

func (r *memListingRepo) ExpiredListingIDs(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, l := range r.listings {
		if l.Status == ListingStatusActive && asOf.After(l.ExpiresAt) && len(ids) < limit {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

func (r *memListingRepo) PendingSettlementIDs(ctx context.Context, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, l := range r.listings {
		if l.PendingEscrowRef != "" && len(ids) < limit {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

func (r *memListingRepo) RecordTrade(ctx context.Context, tick *TradeTick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, *tick)
	return nil
}

func (r *memListingRepo) ListTrades(ctx context.Context, assetID string, limit int) ([]TradeTick, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []TradeTick
	for i := len(r.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if r.trades[i].AssetID == assetID {
			out = append(out, r.trades[i])
		}
	}
	return out, nil
}

type escrowRelease struct {
	Ref       string
	Recipient string
}

// recordingExecutor captures escrow traffic for assertions. failReleases
// injects releaseErr on that many ReleaseEscrow calls.
type recordingExecutor struct {
	mu           sync.Mutex
	openErr      error
	releaseErr   error
	failReleases int
	seq          int
	opens        []chain.EscrowParams
	releases     []escrowRelease
}

func (e *recordingExecutor) Transfer(ctx context.Context, assetID, from, to string, units float64) (string, error) {
	return "tx-test", nil
}

func (e *recordingExecutor) OpenEscrow(ctx context.Context, params chain.EscrowParams) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return "", e.openErr
	}
	e.seq++
	e.opens = append(e.opens, params)
	return fmt.Sprintf("escrow-%d", e.seq), nil
}

func (e *recordingExecutor) ReleaseEscrow(ctx context.Context, escrowRef, recipient string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failReleases > 0 {
		e.failReleases--
		return e.releaseErr
	}
	e.releases = append(e.releases, escrowRelease{Ref: escrowRef, Recipient: recipient})
	return nil
}

func (e *recordingExecutor) releasedTo(recipient string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, r := range e.releases {
		if r.Recipient == recipient {
			count++
		}
	}
	return count
}

// recordingSink captures published event types in order.
type recordingSink struct {
	mu    sync.Mutex
	types []string
}

func (s *recordingSink) Publish(ctx context.Context, event notifications.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, event.Type)
}

type fixture struct {
	svc      *Service
	listings *memListingRepo
	assets   *memAssetRepo
	ledger   *ledger.Service
	executor *recordingExecutor
	sink     *recordingSink
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	assets := newMemAssetRepo()
	ledgerSvc := ledger.NewService(assets, zap.NewNop())
	listings := newMemListingRepo()
	executor := &recordingExecutor{}
	sink := &recordingSink{}

	cfg := config.MarketplaceConfig{DefaultListingDuration: 30 * 24 * time.Hour}
	svc := NewService(listings, ledgerSvc, executor, sink, cfg, zap.NewNop())

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := &now
	svc.now = func() time.Time { return *clock }

	return &fixture{
		svc:      svc,
		listings: listings,
		assets:   assets,
		ledger:   ledgerSvc,
		executor: executor,
		sink:     sink,
		clock:    clock,
	}
}

func (f *fixture) mint(t *testing.T, assetID, owner string, supply, price float64) {
	t.Helper()
	_, err := f.ledger.Mint(context.Background(), assetID, supply, owner, price)
	require.NoError(t, err)
}

func TestCreateListingRequiresHoldings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	_, err := f.svc.CreateListing(ctx, "bob", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10, Kind: ListingKindFixed,
	})
	assert.ErrorIs(t, err, ErrInsufficientHoldings)

	_, err = f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 1001, PricePerUnit: 10, Kind: ListingKindFixed,
	})
	assert.ErrorIs(t, err, ErrInsufficientHoldings)
}

func TestFirstListingEnablesTrading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	asset, err := f.ledger.GetAsset(ctx, "asset-1")
	require.NoError(t, err)
	require.False(t, asset.TradingEnabled)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10, Kind: ListingKindFixed,
	})
	require.NoError(t, err)
	assert.Equal(t, ListingStatusActive, listing.Status)
	assert.Equal(t, f.clock.Add(30*24*time.Hour), listing.ExpiresAt)

	asset, err = f.ledger.GetAsset(ctx, "asset-1")
	require.NoError(t, err)
	assert.True(t, asset.TradingEnabled)
}

func TestFixedPriceBidAutoFills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10, Kind: ListingKindFixed,
	})
	require.NoError(t, err)

	bid, err := f.svc.PlaceBid(ctx, listing.ID, "bob", 10)
	require.NoError(t, err)
	assert.Equal(t, BidStatusAccepted, bid.Status)

	stored, err := f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, ListingStatusFilled, stored.Status)

	asset, err := f.ledger.GetAsset(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), asset.Record("bob").UnitsOwned)
	assert.Equal(t, float64(900), asset.Record("alice").UnitsOwned)
	assert.Equal(t, float64(10), asset.PricePerUnit)

	// Escrow: 100 units at 10 each, released to the seller.
	require.Len(t, f.executor.opens, 1)
	assert.Equal(t, float64(1000), f.executor.opens[0].Amount)
	assert.Equal(t, 1, f.executor.releasedTo("alice"))

	trades, err := f.svc.ListTrades(ctx, "asset-1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, float64(10), trades[0].Price)
	assert.Equal(t, float64(100), trades[0].Quantity)

	assert.Contains(t, f.sink.types, notifications.EventBidPlaced)
	assert.Contains(t, f.sink.types, notifications.EventBidAccepted)
}

func TestFixedPriceBidMustMatchExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10, Kind: ListingKindFixed,
	})
	require.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, listing.ID, "bob", 9.99)
	assert.ErrorIs(t, err, ErrBidTooLow)

	_, err = f.svc.PlaceBid(ctx, listing.ID, "bob", 10.01)
	assert.ErrorIs(t, err, ErrBidTooLow)

	// Nothing escrowed for a rejected bid.
	assert.Empty(t, f.executor.opens)
}

func TestAuctionBidsStrictlyIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10,
		Kind: ListingKindAuction, MinimumBid: 10,
	})
	require.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, listing.ID, "bob", 10)
	assert.ErrorIs(t, err, ErrBidTooLow)

	_, err = f.svc.PlaceBid(ctx, listing.ID, "bob", 11)
	require.NoError(t, err)

	// Ties are rejected.
	_, err = f.svc.PlaceBid(ctx, listing.ID, "carol", 11)
	assert.ErrorIs(t, err, ErrBidTooLow)

	_, err = f.svc.PlaceBid(ctx, listing.ID, "carol", 12)
	require.NoError(t, err)
}

func TestAcceptBidSellerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10,
		Kind: ListingKindAuction, MinimumBid: 5,
	})
	require.NoError(t, err)

	bid, err := f.svc.PlaceBid(ctx, listing.ID, "bob", 11)
	require.NoError(t, err)

	err = f.svc.AcceptBid(ctx, listing.ID, bid.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotSeller)

	err = f.svc.AcceptBid(ctx, listing.ID, bid.ID, "alice")
	require.NoError(t, err)
}

func TestAcceptBidRefundsLosingBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10,
		Kind: ListingKindAuction, MinimumBid: 5,
	})
	require.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, listing.ID, "bob", 11)
	require.NoError(t, err)
	winner, err := f.svc.PlaceBid(ctx, listing.ID, "carol", 12)
	require.NoError(t, err)

	require.NoError(t, f.svc.AcceptBid(ctx, listing.ID, winner.ID, "alice"))

	stored, err := f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, ListingStatusFilled, stored.Status)
	assert.Equal(t, BidStatusAccepted, stored.Bid(winner.ID).Status)

	assert.Equal(t, 1, f.executor.releasedTo("alice"))
	assert.Equal(t, 1, f.executor.releasedTo("bob"))
	assert.Equal(t, 0, f.executor.releasedTo("carol"))

	asset, err := f.ledger.GetAsset(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), asset.Record("carol").UnitsOwned)
}

func TestPlaceBidEscrowFailureLeavesNoBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10,
		Kind: ListingKindAuction, MinimumBid: 5,
	})
	require.NoError(t, err)

	f.executor.openErr = chain.ErrSettlementFailed
	_, err = f.svc.PlaceBid(ctx, listing.ID, "bob", 11)
	assert.ErrorIs(t, err, chain.ErrSettlementFailed)

	stored, err := f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Bids)
}

func TestCancelListingRefundsActiveBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10,
		Kind: ListingKindAuction, MinimumBid: 5,
	})
	require.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, listing.ID, "bob", 11)
	require.NoError(t, err)

	err = f.svc.CancelListing(ctx, listing.ID, "bob")
	assert.ErrorIs(t, err, ErrNotSeller)

	require.NoError(t, f.svc.CancelListing(ctx, listing.ID, "alice"))

	stored, err := f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, ListingStatusCancelled, stored.Status)
	assert.Equal(t, BidStatusCancelled, stored.Bids[0].Status)
	assert.Equal(t, 1, f.executor.releasedTo("bob"))

	// Terminal state rejects further writes.
	_, err = f.svc.PlaceBid(ctx, listing.ID, "carol", 12)
	assert.ErrorIs(t, err, ErrListingNotActive)
}

func TestExpiredListingRejectsBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10,
		Kind: ListingKindAuction, MinimumBid: 5, DurationDays: 1,
	})
	require.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, listing.ID, "bob", 11)
	require.NoError(t, err)

	*f.clock = f.clock.Add(48 * time.Hour)

	_, err = f.svc.PlaceBid(ctx, listing.ID, "carol", 12)
	assert.ErrorIs(t, err, ErrListingNotActive)

	stored, err := f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, ListingStatusExpired, stored.Status)
	assert.Equal(t, 1, f.executor.releasedTo("bob"))
}

func TestBidCommittedConcurrentlySurvivesRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10,
		Kind: ListingKindAuction, MinimumBid: 5,
	})
	require.NoError(t, err)

	// Another instance commits bob's bid between carol's read and write.
	f.listings.beforeUpdate = func() {
		stored, err := f.listings.GetListing(ctx, listing.ID)
		require.NoError(t, err)
		stored.Bids = append(stored.Bids, Bid{
			ID: "bid-bob", ListingID: listing.ID, BidderID: "bob",
			Amount: 11, Status: BidStatusActive, EscrowRef: "escrow-bob",
			PlacedAt: *f.clock,
		})
		require.NoError(t, f.listings.UpdateListing(ctx, stored, stored.Version))
	}

	_, err = f.svc.PlaceBid(ctx, listing.ID, "carol", 12)
	require.NoError(t, err)

	stored, err := f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, stored.Bids, 2)
	require.NotNil(t, stored.Bid("bid-bob"))
	assert.Equal(t, BidStatusActive, stored.Bid("bid-bob").Status)
	assert.Empty(t, f.executor.releases)
}

func TestConcurrentFillRejectsLateBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10, Kind: ListingKindFixed,
	})
	require.NoError(t, err)

	// Another instance fills the listing between carol's read and write.
	f.listings.beforeUpdate = func() {
		stored, err := f.listings.GetListing(ctx, listing.ID)
		require.NoError(t, err)
		stored.Status = ListingStatusFilled
		require.NoError(t, f.listings.UpdateListing(ctx, stored, stored.Version))
	}

	_, err = f.svc.PlaceBid(ctx, listing.ID, "carol", 10)
	assert.ErrorIs(t, err, ErrListingNotActive)

	// Carol's escrow came back and her bid never stood.
	assert.Equal(t, 1, f.executor.releasedTo("carol"))
	stored, err := f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Bids)
}

func TestPlaceBidRefundsEscrowWhenPersistFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10,
		Kind: ListingKindAuction, MinimumBid: 5,
	})
	require.NoError(t, err)

	f.listings.failUpdates = 1
	f.listings.updateErr = fmt.Errorf("write failed")

	_, err = f.svc.PlaceBid(ctx, listing.ID, "bob", 11)
	require.Error(t, err)

	// The held payment went back to the bidder.
	require.Len(t, f.executor.opens, 1)
	assert.Equal(t, 1, f.executor.releasedTo("bob"))

	stored, err := f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Bids)
}

func TestFillQueuesUnsettledPayoutForRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	listing, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
		AssetID: "asset-1", Quantity: 100, PricePerUnit: 10, Kind: ListingKindFixed,
	})
	require.NoError(t, err)

	f.executor.failReleases = 1
	f.executor.releaseErr = chain.ErrSettlementFailed

	bid, err := f.svc.PlaceBid(ctx, listing.ID, "bob", 10)
	require.NoError(t, err)
	assert.Equal(t, BidStatusAccepted, bid.Status)

	// The fill committed but the payout is still owed.
	stored, err := f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, ListingStatusFilled, stored.Status)
	assert.Equal(t, bid.EscrowRef, stored.PendingEscrowRef)
	assert.Equal(t, "alice", stored.PendingRecipient)
	assert.Equal(t, 0, f.executor.releasedTo("alice"))

	settled, err := f.svc.RetrySettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, f.executor.releasedTo("alice"))

	stored, err = f.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PendingEscrowRef)
}

func TestSweepExpiredPersistsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mint(t, "asset-1", "alice", 1000, 10)

	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateListing(ctx, "alice", &CreateListingRequest{
			AssetID: "asset-1", Quantity: 10, PricePerUnit: 10,
			Kind: ListingKindFixed, DurationDays: 1,
		})
		require.NoError(t, err)
	}

	*f.clock = f.clock.Add(48 * time.Hour)

	swept, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	active, err := f.svc.ListByAsset(ctx, "asset-1", ListingStatusActive)
	require.NoError(t, err)
	assert.Empty(t, active)
}
