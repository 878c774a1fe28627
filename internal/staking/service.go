package staking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/internal/notifications"
	"github.com/Francklinok/easyrent-defi-core/pkg/ids"
	"github.com/Francklinok/easyrent-defi-core/pkg/locks"
)

// Service implements staking with lockup tiers and daily reward accrual.
// Pool and stake mutations are serialized on the pool's key.
type Service struct {
	repo   Repository
	events notifications.Sink
	locks  *locks.KeyedMutex
	ids    ids.Generator
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a staking service
func NewService(repo Repository, events notifications.Sink, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		events: events,
		locks:  locks.NewKeyedMutex(),
		ids:    ids.NewUUIDGenerator(),
		logger: logger,
		now:    time.Now,
	}
}

// CreatePool registers a staking pool.
func (s *Service) CreatePool(ctx context.Context, req *CreateStakingPoolRequest) (*StakingPool, error) {
	for _, tier := range req.LockupTiers {
		if tier.Days <= 0 || tier.Multiplier <= 0 {
			return nil, fmt.Errorf("invalid lockup tier %d days at %f", tier.Days, tier.Multiplier)
		}
	}

	now := s.now()
	pool := &StakingPool{
		ID:              s.ids.NewID().String(),
		Asset:           req.Asset,
		DailyRewardRate: req.DailyRewardRate,
		MinStakeAmount:  req.MinStakeAmount,
		LockupTiers:     req.LockupTiers,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreatePool(ctx, pool); err != nil {
		return nil, err
	}

	s.logger.Info("Staking pool created",
		zap.String("pool_id", pool.ID),
		zap.String("asset", pool.Asset))
	return pool, nil
}

// GetPool returns a pool by ID.
func (s *Service) GetPool(ctx context.Context, poolID string) (*StakingPool, error) {
	return s.repo.GetPool(ctx, poolID)
}

// ListPools returns every pool.
func (s *Service) ListPools(ctx context.Context) ([]StakingPool, error) {
	return s.repo.ListPools(ctx)
}

// Stake opens a position. The amount must clear the pool minimum and the
// lockup must match a configured tier.
func (s *Service) Stake(ctx context.Context, userID string, req *StakeRequest) (*StakePosition, error) {
	s.locks.Lock(req.PoolID)
	defer s.locks.Unlock(req.PoolID)

	pool, err := s.repo.GetPool(ctx, req.PoolID)
	if err != nil {
		return nil, err
	}
	if req.Amount < pool.MinStakeAmount {
		return nil, fmt.Errorf("amount %f below minimum %f: %w", req.Amount, pool.MinStakeAmount, ErrBelowMinimumStake)
	}
	tier := pool.Tier(req.LockupDays)
	if tier == nil {
		return nil, fmt.Errorf("lockup %d days: %w", req.LockupDays, ErrInvalidLockup)
	}

	now := s.now()
	position := &StakePosition{
		ID:             s.ids.NewID().String(),
		UserID:         userID,
		PoolID:         req.PoolID,
		Amount:         req.Amount,
		StartDate:      now,
		LockupDays:     req.LockupDays,
		TierMultiplier: tier.Multiplier,
		LastClaimAt:    now,
		Status:         StakeStatusActive,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreatePosition(ctx, position); err != nil {
		return nil, err
	}

	pool.TotalStaked += req.Amount
	if err := s.repo.UpdatePool(ctx, pool, pool.Version); err != nil {
		return nil, err
	}

	s.logger.Info("Stake opened",
		zap.String("pool_id", pool.ID),
		zap.String("position_id", position.ID),
		zap.Float64("amount", req.Amount),
		zap.Int("lockup_days", req.LockupDays))

	s.events.Publish(ctx, notifications.Event{
		Type:       notifications.EventPositionOpened,
		UserID:     userID,
		PoolID:     pool.ID,
		PositionID: position.ID,
		Amount:     req.Amount,
		OccurredAt: now,
	})
	return position, nil
}

// ClaimRewards pays out rewards accrued since the last claim. Whole days
// only; the claim window advances in day steps so no window is ever paid
// twice.
func (s *Service) ClaimRewards(ctx context.Context, userID, positionID string) (float64, error) {
	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return 0, err
	}

	s.locks.Lock(position.PoolID)
	defer s.locks.Unlock(position.PoolID)

	position, err = s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return 0, err
	}
	if position.UserID != userID {
		return 0, fmt.Errorf("user %s on stake %s: %w", userID, positionID, ErrNotOwner)
	}
	if position.Status != StakeStatusActive {
		return 0, fmt.Errorf("stake %s is %s: %w", positionID, position.Status, ErrPositionNotActive)
	}

	pool, err := s.repo.GetPool(ctx, position.PoolID)
	if err != nil {
		return 0, err
	}

	payout := s.accrue(pool, position)
	if payout <= 0 {
		return 0, nil
	}

	position.RewardsClaimed += payout
	position.RewardsAccrued = 0
	if err := s.repo.UpdatePosition(ctx, position, position.Version); err != nil {
		return 0, err
	}

	s.logger.Info("Rewards claimed",
		zap.String("position_id", position.ID),
		zap.Float64("amount", payout))

	s.events.Publish(ctx, notifications.Event{
		Type:       notifications.EventRewardsClaimed,
		UserID:     userID,
		PoolID:     pool.ID,
		PositionID: position.ID,
		Amount:     payout,
		OccurredAt: s.now(),
	})
	return payout, nil
}

// Unstake closes the position after its lockup ends. Outstanding rewards
// are claimed as part of the close; the record is kept for audit.
func (s *Service) Unstake(ctx context.Context, userID, positionID string) (*StakePosition, error) {
	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(position.PoolID)
	defer s.locks.Unlock(position.PoolID)

	position, err = s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position.UserID != userID {
		return nil, fmt.Errorf("user %s on stake %s: %w", userID, positionID, ErrNotOwner)
	}
	if position.Status != StakeStatusActive {
		return nil, fmt.Errorf("stake %s is %s: %w", positionID, position.Status, ErrPositionNotActive)
	}

	now := s.now()
	if now.Before(position.LockupEndsAt()) {
		return nil, fmt.Errorf("stake %s locked until %s: %w", positionID,
			position.LockupEndsAt().Format(time.RFC3339), ErrLockupActive)
	}

	pool, err := s.repo.GetPool(ctx, position.PoolID)
	if err != nil {
		return nil, err
	}

	if payout := s.accrue(pool, position); payout > 0 {
		position.RewardsClaimed += payout
		position.RewardsAccrued = 0
		s.events.Publish(ctx, notifications.Event{
			Type:       notifications.EventRewardsClaimed,
			UserID:     userID,
			PoolID:     pool.ID,
			PositionID: position.ID,
			Amount:     payout,
			OccurredAt: now,
		})
	}

	principal := position.Amount
	position.Status = StakeStatusClosed
	if err := s.repo.UpdatePosition(ctx, position, position.Version); err != nil {
		return nil, err
	}

	pool.TotalStaked -= principal
	if err := s.repo.UpdatePool(ctx, pool, pool.Version); err != nil {
		return nil, err
	}

	s.logger.Info("Stake closed",
		zap.String("position_id", position.ID),
		zap.Float64("principal", principal),
		zap.Float64("rewards_claimed", position.RewardsClaimed))
	return position, nil
}

// GetPosition returns a stake with rewards accrued to now.
func (s *Service) GetPosition(ctx context.Context, positionID string) (*StakePosition, error) {
	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position.Status == StakeStatusActive {
		pool, err := s.repo.GetPool(ctx, position.PoolID)
		if err != nil {
			return nil, err
		}
		position.RewardsAccrued = s.pendingRewards(pool, position, s.now())
	}
	return position, nil
}

// ListUserPositions returns every stake the user has ever held.
func (s *Service) ListUserPositions(ctx context.Context, userID string) ([]StakePosition, error) {
	return s.repo.ListUserPositions(ctx, userID)
}

// accrue computes the payable rewards since the last claim and advances
// the claim window by the whole days covered.
func (s *Service) accrue(pool *StakingPool, position *StakePosition) float64 {
	now := s.now()
	days := int(now.Sub(position.LastClaimAt).Hours() / 24)
	if days <= 0 {
		return 0
	}
	payout := s.rewardFor(pool, position, days)
	position.LastClaimAt = position.LastClaimAt.Add(time.Duration(days) * 24 * time.Hour)
	return payout
}

// pendingRewards is accrue without the window advance, for display.
func (s *Service) pendingRewards(pool *StakingPool, position *StakePosition, now time.Time) float64 {
	days := int(now.Sub(position.LastClaimAt).Hours() / 24)
	if days <= 0 {
		return 0
	}
	return s.rewardFor(pool, position, days)
}

func (s *Service) rewardFor(pool *StakingPool, position *StakePosition, days int) float64 {
	if pool.TotalStaked <= 0 {
		return 0
	}
	share := position.Amount / pool.TotalStaked
	return share * pool.DailyRewardRate * float64(days) * position.TierMultiplier
}
