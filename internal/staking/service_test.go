package staking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/internal/notifications"
)

// memRepo is an in-memory Repository with real CAS semantics.
type memRepo struct {
	mu        sync.Mutex
	pools     map[string]*StakingPool
	positions map[string]*StakePosition
}

func newMemRepo() *memRepo {
	return &memRepo{
		pools:     make(map[string]*StakingPool),
		positions: make(map[string]*StakePosition),
	}
}

func clonePool(p *StakingPool) *StakingPool {
	c := *p
	c.LockupTiers = append([]LockupTier(nil), p.LockupTiers...)
	return &c
}

func (r *memRepo) CreatePool(ctx context.Context, pool *StakingPool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[pool.ID] = clonePool(pool)
	return nil
}

func (r *memRepo) GetPool(ctx context.Context, poolID string) (*StakingPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", poolID, ErrPoolNotFound)
	}
	return clonePool(p), nil
}

func (r *memRepo) UpdatePool(ctx context.Context, pool *StakingPool, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.pools[pool.ID]
	if !ok {
		return ErrPoolNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	stored := clonePool(pool)
	stored.Version = expectedVersion + 1
	r.pools[pool.ID] = stored
	pool.Version = stored.Version
	return nil
}

func (r *memRepo) ListPools(ctx context.Context) ([]StakingPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StakingPool
	for _, p := range r.pools {
		out = append(out, *clonePool(p))
	}
	return out, nil
}

func (r *memRepo) CreatePosition(ctx context.Context, position *StakePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *position
	r.positions[position.ID] = &cp
	return nil
}

func (r *memRepo) GetPosition(ctx context.Context, positionID string) (*StakePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("stake %s: %w", positionID, ErrPositionNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) UpdatePosition(ctx context.Context, position *StakePosition, expectedVersion int64) error {
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

func (r *memRepo) ListUserPositions(ctx context.Context, userID string) ([]StakePosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StakePosition
	for _, p := range r.positions {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fixture struct {
	svc   *Service
	repo  *memRepo
	clock *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	svc := NewService(repo, notifications.NopSink{}, zap.NewNop())

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := &now
	svc.now = func() time.Time { return *clock }

	return &fixture{svc: svc, repo: repo, clock: clock}
}

func (f *fixture) newPool(t *testing.T) *StakingPool {
	t.Helper()
	pool, err := f.svc.CreatePool(context.Background(), &CreateStakingPoolRequest{
		Asset:           "PROP",
		DailyRewardRate: 100,
		MinStakeAmount:  50,
		LockupTiers: []LockupTier{
			{Days: 30, Multiplier: 1.0},
			{Days: 90, Multiplier: 1.5},
			{Days: 365, Multiplier: 2.0},
		},
	})
	require.NoError(t, err)
	return pool
}

func TestStakeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t)

	_, err := f.svc.Stake(ctx, "alice", &StakeRequest{PoolID: pool.ID, Amount: 10, LockupDays: 30})
	assert.ErrorIs(t, err, ErrBelowMinimumStake)

	_, err = f.svc.Stake(ctx, "alice", &StakeRequest{PoolID: pool.ID, Amount: 100, LockupDays: 45})
	assert.ErrorIs(t, err, ErrInvalidLockup)

	position, err := f.svc.Stake(ctx, "alice", &StakeRequest{PoolID: pool.ID, Amount: 100, LockupDays: 90})
	require.NoError(t, err)
	assert.Equal(t, 1.5, position.TierMultiplier)

	stored, err := f.repo.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(100), stored.TotalStaked)
}

func TestClaimRewardsProportionalShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t)

	alice, err := f.svc.Stake(ctx, "alice", &StakeRequest{PoolID: pool.ID, Amount: 300, LockupDays: 30})
	require.NoError(t, err)
	_, err = f.svc.Stake(ctx, "bob", &StakeRequest{PoolID: pool.ID, Amount: 100, LockupDays: 30})
	require.NoError(t, err)

	*f.clock = f.clock.Add(10 * 24 * time.Hour)

	// Alice holds 300 of 400 staked: 0.75 * 100/day * 10 days * 1.0.
	payout, err := f.svc.ClaimRewards(ctx, "alice", alice.ID)
	require.NoError(t, err)
	assert.InDelta(t, 750, payout, 1e-9)
}

func TestClaimNeverDoubleCountsWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t)

	position, err := f.svc.Stake(ctx, "alice", &StakeRequest{PoolID: pool.ID, Amount: 100, LockupDays: 30})
	require.NoError(t, err)

	*f.clock = f.clock.Add(5 * 24 * time.Hour)

	first, err := f.svc.ClaimRewards(ctx, "alice", position.ID)
	require.NoError(t, err)
	assert.InDelta(t, 500, first, 1e-9)

	// Immediate second claim pays nothing.
	second, err := f.svc.ClaimRewards(ctx, "alice", position.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(0), second)

	// A partial day later still nothing; the next whole day pays one day.
	*f.clock = f.clock.Add(12 * time.Hour)
	third, err := f.svc.ClaimRewards(ctx, "alice", position.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(0), third)

	*f.clock = f.clock.Add(12 * time.Hour)
	fourth, err := f.svc.ClaimRewards(ctx, "alice", position.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, fourth, 1e-9)
}

func TestClaimOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t)

	position, err := f.svc.Stake(ctx, "alice", &StakeRequest{PoolID: pool.ID, Amount: 100, LockupDays: 30})
	require.NoError(t, err)

	_, err = f.svc.ClaimRewards(ctx, "mallory", position.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestUnstakeHonorsLockup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t)

	position, err := f.svc.Stake(ctx, "alice", &StakeRequest{PoolID: pool.ID, Amount: 100, LockupDays: 30})
	require.NoError(t, err)

	*f.clock = f.clock.Add(29 * 24 * time.Hour)
	_, err = f.svc.Unstake(ctx, "alice", position.ID)
	assert.ErrorIs(t, err, ErrLockupActive)

	*f.clock = f.clock.Add(24 * time.Hour)
	closed, err := f.svc.Unstake(ctx, "alice", position.ID)
	require.NoError(t, err)
	assert.Equal(t, StakeStatusClosed, closed.Status)

	// Final claim covered the whole 30 days.
	assert.InDelta(t, 3000, closed.RewardsClaimed, 1e-9)

	// The record survives for audit and the pool shrinks.
	stored, err := f.repo.GetPosition(ctx, position.ID)
	require.NoError(t, err)
	assert.Equal(t, StakeStatusClosed, stored.Status)

	storedPool, err := f.repo.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(0), storedPool.TotalStaked)

	_, err = f.svc.Unstake(ctx, "alice", position.ID)
	assert.ErrorIs(t, err, ErrPositionNotActive)
}

func TestGetPositionShowsPendingRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.newPool(t)

	position, err := f.svc.Stake(ctx, "alice", &StakeRequest{PoolID: pool.ID, Amount: 100, LockupDays: 30})
	require.NoError(t, err)

	*f.clock = f.clock.Add(3 * 24 * time.Hour)

	got, err := f.svc.GetPosition(ctx, position.ID)
	require.NoError(t, err)
	assert.InDelta(t, 300, got.RewardsAccrued, 1e-9)

	// Display does not consume the window.
	payout, err := f.svc.ClaimRewards(ctx, "alice", position.ID)
	require.NoError(t, err)
	assert.InDelta(t, 300, payout, 1e-9)
}
