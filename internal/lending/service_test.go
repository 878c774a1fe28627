package lending

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/internal/config"
	"github.com/Francklinok/easyrent-defi-core/internal/notifications"
	"github.com/Francklinok/easyrent-defi-core/internal/oracle"
)

// memRepo is an in-memory Repository with real CAS semantics.
type memRepo struct {
	mu        sync.Mutex
	pools     map[string]*LendingPool
	positions map[string]*Position
}

func newMemRepo() *memRepo {
	return &memRepo{
		pools:     make(map[string]*LendingPool),
		positions: make(map[string]*Position),
	}
}

func (r *memRepo) CreatePool(ctx context.Context, pool *LendingPool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pool
	r.pools[pool.ID] = &cp
	return nil
}

func (r *memRepo) GetPool(ctx context.Context, poolID string) (*LendingPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", poolID, ErrPoolNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) UpdatePool(ctx context.Context, pool *LendingPool, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.pools[pool.ID]
	if !ok {
		return ErrPoolNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	cp := *pool
	cp.Version = expectedVersion + 1
	r.pools[pool.ID] = &cp
	pool.Version = cp.Version
	return nil
}

func (r *memRepo) ListPools(ctx context.Context) ([]LendingPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LendingPool
	for _, p := range r.pools {
		out = append(out, *p)
	}
	return out, nil
}

func (r *memRepo) CreatePosition(ctx context.Context, position *Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *position
	r.positions[position.ID] = &cp
	return nil
}

func (r *memRepo) GetPosition(ctx context.Context, positionID string) (*Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrPositionNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) UpdatePosition(ctx context.Context, position *Position, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.positions[position.ID]
	if !ok {
		return ErrPositionNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	cp := *position
	cp.Version = expectedVersion + 1
	r.positions[position.ID] = &cp
	position.Version = cp.Version
	return nil
}

func (r *memRepo) FindActivePosition(ctx context.Context, userID, poolID string, kind PositionKind) (*Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.positions {
		if p.UserID == userID && p.PoolID == poolID && p.Kind == kind && p.Status == PositionStatusActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListUserPositions(ctx context.Context, userID string) ([]Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Position
	for _, p := range r.positions {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// stubOracle serves fixed prices from a map.
type stubOracle struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (o *stubOracle) GetPrice(ctx context.Context, symbol string) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	price, ok := o.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("symbol %s: %w", symbol, oracle.ErrPriceUnavailable)
	}
	return price, nil
}

func (o *stubOracle) set(symbol string, price float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = price
}

type fixture struct {
	svc    *Service
	repo   *memRepo
	quotes *stubOracle
	clock  *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	quotes := &stubOracle{prices: map[string]float64{"USDX": 1, "PROP": 10}}
	svc := NewService(repo, quotes, notifications.NopSink{}, config.LendingConfig{LiquidationBonus: 0.10}, zap.NewNop())

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := &now
	svc.now = func() time.Time { return *clock }

	return &fixture{svc: svc, repo: repo, quotes: quotes, clock: clock}
}

// newPool creates a USDX pool with liquidity, using the 0.8/0.85 risk
// parameters exercised throughout.
func (f *fixture) newPool(t *testing.T, liquidity float64) *LendingPool {
	t.Helper()
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, &CreatePoolRequest{
		Asset:                "USDX",
		SupplyRate:           0.04,
		BorrowRate:           0.10,
		CollateralFactor:     0.8,
		LiquidationThreshold: 0.85,
	})
	require.NoError(t, err)

	if liquidity > 0 {
		_, err = f.svc.Supply(ctx, "lp", &SupplyRequest{PoolID: pool.ID, Amount: liquidity})
		require.NoError(t, err)
	}
	return pool
}

func TestCreatePoolValidatesRiskParameters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePool(ctx, &CreatePoolRequest{
		Asset: "USDX", CollateralFactor: 0, LiquidationThreshold: 0.85,
	})
	assert.Error(t, err)

	_, err = f.svc.CreatePool(ctx, &CreatePoolRequest{
		Asset: "USDX", CollateralFactor: 1.2, LiquidationThreshold: 1.2,
	})
	assert.Error(t, err)

	_, err = f.svc.CreatePool(ctx, &CreatePoolRequest{
		Asset: "USDX", CollateralFactor: 0.8, LiquidationThreshold: 0.7,
	})
	assert.Error(t, err)
}

func TestSupplyIncreasesPoolAndPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 0)

	first, err := f.svc.Supply(ctx, "alice", &SupplyRequest{PoolID: pool.ID, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, float64(500), first.Principal)

	second, err := f.svc.Supply(ctx, "alice", &SupplyRequest{PoolID: pool.ID, Amount: 250})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, float64(750), second.Principal)

	stored, err := f.repo.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(750), stored.TotalSupply)
}

func TestBorrowRequiresCollateral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 5000)

	// 1000 USDX at factor 0.8 needs collateral worth 1250; 100 PROP at 10
	// is worth exactly 1000.
	_, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 1000,
		CollateralAsset: "PROP", CollateralAmount: 100,
	})
	assert.ErrorIs(t, err, ErrInsufficientCollateral)

	position, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 1000,
		CollateralAsset: "PROP", CollateralAmount: 150,
	})
	require.NoError(t, err)

	// 150 PROP * 10 * 0.85 / 1000.
	assert.InDelta(t, 1.275, position.HealthFactor, 1e-9)

	stored, err := f.repo.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1000), stored.TotalBorrow)
	assert.InDelta(t, 0.2, stored.UtilizationRate, 1e-9)
}

func TestBorrowRequiresLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 500)

	_, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 1000,
		CollateralAsset: "PROP", CollateralAmount: 500,
	})
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestBorrowFailsWithoutPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 5000)

	_, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 100,
		CollateralAsset: "UNKNOWN", CollateralAmount: 500,
	})
	assert.ErrorIs(t, err, oracle.ErrPriceUnavailable)
}

func TestInterestAccruesDaily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 5000)

	position, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 1000,
		CollateralAsset: "PROP", CollateralAmount: 200,
	})
	require.NoError(t, err)

	*f.clock = f.clock.Add(30 * 24 * time.Hour)

	got, err := f.svc.GetPosition(ctx, position.ID)
	require.NoError(t, err)
	// 1000 * 0.10 / 365 * 30.
	assert.InDelta(t, 8.2191780, got.InterestAccrued, 1e-6)

	// A partial day adds nothing.
	*f.clock = f.clock.Add(12 * time.Hour)
	again, err := f.svc.GetPosition(ctx, position.ID)
	require.NoError(t, err)
	assert.InDelta(t, got.InterestAccrued, again.InterestAccrued, 1e-9)
}

func TestRepayInterestFirstThenPrincipal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 5000)

	position, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 1000,
		CollateralAsset: "PROP", CollateralAmount: 200,
	})
	require.NoError(t, err)

	*f.clock = f.clock.Add(365 * 24 * time.Hour)

	// One year at 10%: debt is 1100. Pay 150: 100 interest then 50 principal.
	got, err := f.svc.Repay(ctx, "bob", position.ID, 150)
	require.NoError(t, err)
	assert.InDelta(t, 950, got.Principal, 1e-6)
	assert.InDelta(t, 0, got.InterestAccrued, 1e-6)
	assert.Equal(t, PositionStatusActive, got.Status)

	stored, err := f.repo.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.InDelta(t, 950, stored.TotalBorrow, 1e-6)
}

func TestRepayExactDebtClosesPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 5000)

	position, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 1000,
		CollateralAsset: "PROP", CollateralAmount: 200,
	})
	require.NoError(t, err)

	*f.clock = f.clock.Add(365 * 24 * time.Hour)

	debt := 1000 + 1000*0.10/365*365

	_, err = f.svc.Repay(ctx, "bob", position.ID, debt+1)
	assert.ErrorIs(t, err, ErrOverRepayment)

	got, err := f.svc.Repay(ctx, "bob", position.ID, debt)
	require.NoError(t, err)
	assert.Equal(t, PositionStatusClosed, got.Status)
	assert.Equal(t, float64(0), got.Principal)
	assert.Equal(t, float64(0), got.CollateralAmount)

	stored, err := f.repo.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, stored.TotalBorrow, 1e-6)

	_, err = f.svc.Repay(ctx, "bob", position.ID, 1)
	assert.ErrorIs(t, err, ErrPositionNotActive)
}

func TestRepayOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 5000)

	position, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 1000,
		CollateralAsset: "PROP", CollateralAmount: 200,
	})
	require.NoError(t, err)

	_, err = f.svc.Repay(ctx, "mallory", position.ID, 100)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestLiquidateBoundaryAtOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 5000)

	position, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 1000,
		CollateralAsset: "PROP", CollateralAmount: 150,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.275, position.HealthFactor, 1e-9)

	// Price where the health factor is exactly 1.0:
	// 150 * p * 0.85 == 1000  =>  p == 7.8431...
	f.quotes.set("PROP", 1000/(150*0.85))
	_, err = f.svc.Liquidate(ctx, "liq", position.ID)
	assert.ErrorIs(t, err, ErrNotLiquidatable)

	// Any lower price crosses the line.
	f.quotes.set("PROP", 1000/(150*0.85)-0.01)
	seized, err := f.svc.Liquidate(ctx, "liq", position.ID)
	require.NoError(t, err)
	assert.Greater(t, seized, float64(0))

	got, err := f.repo.GetPosition(ctx, position.ID)
	require.NoError(t, err)
	assert.Equal(t, PositionStatusLiquidated, got.Status)

	stored, err := f.repo.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, stored.TotalBorrow, 1e-6)
}

func TestLiquidateSeizesDebtPlusBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 5000)

	position, err := f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 1000,
		CollateralAsset: "PROP", CollateralAmount: 150,
	})
	require.NoError(t, err)

	// Collateral worth 1000 against debt 1000: health factor 0.85.
	f.quotes.set("PROP", 1000.0/150)
	seized, err := f.svc.Liquidate(ctx, "liq", position.ID)
	require.NoError(t, err)

	// Debt value 1000 * 1.10 bonus / price, capped at 150 held.
	expected := math.Min(1100/(1000.0/150), 150)
	assert.InDelta(t, expected, seized, 1e-6)
}

func TestWithdrawBoundedByBalanceAndLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t, 0)

	position, err := f.svc.Supply(ctx, "alice", &SupplyRequest{PoolID: pool.ID, Amount: 1000})
	require.NoError(t, err)

	_, err = f.svc.Withdraw(ctx, "alice", position.ID, 1001)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	// Lend most of the pool out; the supplier cannot pull committed funds.
	_, err = f.svc.Borrow(ctx, "bob", &BorrowRequest{
		PoolID: pool.ID, Amount: 900,
		CollateralAsset: "PROP", CollateralAmount: 200,
	})
	require.NoError(t, err)

	_, err = f.svc.Withdraw(ctx, "alice", position.ID, 500)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	got, err := f.svc.Withdraw(ctx, "alice", position.ID, 100)
	require.NoError(t, err)
	assert.InDelta(t, 900, got.Principal, 1e-6)
}
