package lending

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/internal/config"
	"github.com/Francklinok/easyrent-defi-core/internal/notifications"
	"github.com/Francklinok/easyrent-defi-core/internal/oracle"
	"github.com/Francklinok/easyrent-defi-core/pkg/ids"
	"github.com/Francklinok/easyrent-defi-core/pkg/locks"
	"github.com/Francklinok/easyrent-defi-core/pkg/workflows"
)

const (
	debtEpsilon  = 1e-9
	closeEpsilon = 1e-9
)

// Service implements pooled lending with collateralized borrows and
// liquidation. All pool and position mutations for a pool are serialized
// on the pool's key.
type Service struct {
	repo    Repository
	prices  oracle.PriceOracle
	events  notifications.Sink
	machine *workflows.StateMachine
	locks   *locks.KeyedMutex
	ids     ids.Generator
	cfg     config.LendingConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a lending service
func NewService(repo Repository, prices oracle.PriceOracle, events notifications.Sink, cfg config.LendingConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		prices:  prices,
		events:  events,
		machine: workflows.NewPositionStateMachine(),
		locks:   locks.NewKeyedMutex(),
		ids:     ids.NewUUIDGenerator(),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// CreatePool registers a lending pool for one asset.
func (s *Service) CreatePool(ctx context.Context, req *CreatePoolRequest) (*LendingPool, error) {
	if req.CollateralFactor <= 0 || req.CollateralFactor > 1 {
		return nil, fmt.Errorf("collateral factor must be in (0, 1], got %f", req.CollateralFactor)
	}
	if req.LiquidationThreshold <= 0 || req.LiquidationThreshold > 1 {
		return nil, fmt.Errorf("liquidation threshold must be in (0, 1], got %f", req.LiquidationThreshold)
	}
	if req.LiquidationThreshold < req.CollateralFactor {
		return nil, fmt.Errorf("liquidation threshold %f below collateral factor %f",
			req.LiquidationThreshold, req.CollateralFactor)
	}

	now := s.now()
	pool := &LendingPool{
		ID:                   s.ids.NewID().String(),
		Asset:                req.Asset,
		SupplyRate:           req.SupplyRate,
		BorrowRate:           req.BorrowRate,
		CollateralFactor:     req.CollateralFactor,
		LiquidationThreshold: req.LiquidationThreshold,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.CreatePool(ctx, pool); err != nil {
		return nil, err
	}

	s.logger.Info("Lending pool created",
		zap.String("pool_id", pool.ID),
		zap.String("asset", pool.Asset))
	return pool, nil
}

// GetPool returns a pool by ID.
func (s *Service) GetPool(ctx context.Context, poolID string) (*LendingPool, error) {
	return s.repo.GetPool(ctx, poolID)
}

// ListPools returns every pool.
func (s *Service) ListPools(ctx context.Context) ([]LendingPool, error) {
	return s.repo.ListPools(ctx)
}

// Supply deposits liquidity into a pool, creating the user's supply
// position or increasing an existing one.
func (s *Service) Supply(ctx context.Context, userID string, req *SupplyRequest) (*Position, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("supply amount must be positive, got %f", req.Amount)
	}

	s.locks.Lock(req.PoolID)
	defer s.locks.Unlock(req.PoolID)

	pool, err := s.repo.GetPool(ctx, req.PoolID)
	if err != nil {
		return nil, err
	}

	position, err := s.repo.FindActivePosition(ctx, userID, req.PoolID, PositionKindSupply)
	if err != nil {
		return nil, err
	}

	now := s.now()
	created := position == nil
	if created {
		position = &Position{
			ID:            s.ids.NewID().String(),
			UserID:        userID,
			PoolID:        req.PoolID,
			Kind:          PositionKindSupply,
			Principal:     req.Amount,
			Status:        PositionStatusActive,
			LastAccrualAt: now,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.CreatePosition(ctx, position); err != nil {
			return nil, err
		}
	} else {
		position.Accrue(pool.SupplyRate, now)
		position.Principal += req.Amount
		if err := s.repo.UpdatePosition(ctx, position, position.Version); err != nil {
			return nil, err
		}
	}

	pool.TotalSupply += req.Amount
	pool.RecomputeUtilization()
	if err := s.repo.UpdatePool(ctx, pool, pool.Version); err != nil {
		return nil, err
	}

	s.logger.Info("Liquidity supplied",
		zap.String("pool_id", pool.ID),
		zap.String("user_id", userID),
		zap.Float64("amount", req.Amount))

	if created {
		s.events.Publish(ctx, notifications.Event{
			Type:       notifications.EventPositionOpened,
			UserID:     userID,
			PoolID:     pool.ID,
			PositionID: position.ID,
			Amount:     req.Amount,
			OccurredAt: now,
		})
	}
	return position, nil
}

// Withdraw takes supplied liquidity back out, bounded by the accrued
// balance and the pool's uncommitted liquidity.
func (s *Service) Withdraw(ctx context.Context, userID, positionID string, amount float64) (*Position, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("withdraw amount must be positive, got %f", amount)
	}

	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(position.PoolID)
	defer s.locks.Unlock(position.PoolID)

	// Reload under the lock.
	position, err = s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position.UserID != userID {
		return nil, fmt.Errorf("user %s on position %s: %w", userID, positionID, ErrNotOwner)
	}
	if position.Kind != PositionKindSupply {
		return nil, fmt.Errorf("position %s is a %s position", positionID, position.Kind)
	}
	if position.Status != PositionStatusActive {
		return nil, fmt.Errorf("position %s is %s: %w", positionID, position.Status, ErrPositionNotActive)
	}

	pool, err := s.repo.GetPool(ctx, position.PoolID)
	if err != nil {
		return nil, err
	}

	position.Accrue(pool.SupplyRate, s.now())
	balance := position.Principal + position.InterestAccrued
	if amount > balance+closeEpsilon {
		return nil, fmt.Errorf("withdraw %f exceeds balance %f: %w", amount, balance, ErrInsufficientLiquidity)
	}
	if amount > pool.AvailableLiquidity()+closeEpsilon {
		return nil, fmt.Errorf("pool %s has %f available: %w", pool.ID, pool.AvailableLiquidity(), ErrInsufficientLiquidity)
	}

	// Interest first, then principal.
	fromInterest := math.Min(amount, position.InterestAccrued)
	position.InterestAccrued -= fromInterest
	fromPrincipal := amount - fromInterest
	position.Principal -= fromPrincipal
	if position.Principal+position.InterestAccrued <= closeEpsilon {
		position.Principal = 0
		position.InterestAccrued = 0
		position.Status = PositionStatusClosed
	}

	if err := s.repo.UpdatePosition(ctx, position, position.Version); err != nil {
		return nil, err
	}

	pool.TotalSupply -= fromPrincipal
	pool.RecomputeUtilization()
	if err := s.repo.UpdatePool(ctx, pool, pool.Version); err != nil {
		return nil, err
	}

	s.logger.Info("Liquidity withdrawn",
		zap.String("pool_id", pool.ID),
		zap.String("position_id", position.ID),
		zap.Float64("amount", amount))
	return position, nil
}

// Borrow opens a collateralized debt position. Collateral and debt are
// valued at live oracle prices; a price failure aborts the borrow.
func (s *Service) Borrow(ctx context.Context, userID string, req *BorrowRequest) (*Position, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("borrow amount must be positive, got %f", req.Amount)
	}

	s.locks.Lock(req.PoolID)
	defer s.locks.Unlock(req.PoolID)

	pool, err := s.repo.GetPool(ctx, req.PoolID)
	if err != nil {
		return nil, err
	}
	if pool.AvailableLiquidity() < req.Amount {
		return nil, fmt.Errorf("pool %s has %f available: %w", pool.ID, pool.AvailableLiquidity(), ErrInsufficientLiquidity)
	}

	collateralPrice, err := s.prices.GetPrice(ctx, req.CollateralAsset)
	if err != nil {
		return nil, fmt.Errorf("failed to price collateral %s: %w", req.CollateralAsset, err)
	}
	assetPrice, err := s.prices.GetPrice(ctx, pool.Asset)
	if err != nil {
		return nil, fmt.Errorf("failed to price %s: %w", pool.Asset, err)
	}

	collateralValue := req.CollateralAmount * collateralPrice
	borrowValue := req.Amount * assetPrice
	if collateralValue < borrowValue/pool.CollateralFactor {
		return nil, fmt.Errorf("collateral value %f covers at most %f: %w",
			collateralValue, collateralValue*pool.CollateralFactor, ErrInsufficientCollateral)
	}

	now := s.now()
	position := &Position{
		ID:               s.ids.NewID().String(),
		UserID:           userID,
		PoolID:           req.PoolID,
		Kind:             PositionKindBorrow,
		Principal:        req.Amount,
		CollateralAsset:  req.CollateralAsset,
		CollateralAmount: req.CollateralAmount,
		HealthFactor:     collateralValue * pool.LiquidationThreshold / borrowValue,
		Status:           PositionStatusActive,
		LastAccrualAt:    now,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreatePosition(ctx, position); err != nil {
		return nil, err
	}

	pool.TotalBorrow += req.Amount
	pool.RecomputeUtilization()
	if err := s.repo.UpdatePool(ctx, pool, pool.Version); err != nil {
		return nil, err
	}

	s.logger.Info("Borrow opened",
		zap.String("pool_id", pool.ID),
		zap.String("position_id", position.ID),
		zap.Float64("amount", req.Amount),
		zap.Float64("health_factor", position.HealthFactor))

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

// Repay pays down a borrow. Payment covers accrued interest first. An
// exact repayment of the full debt closes the position and releases its
// collateral.
func (s *Service) Repay(ctx context.Context, userID, positionID string, amount float64) (*Position, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("repay amount must be positive, got %f", amount)
	}

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
		return nil, fmt.Errorf("user %s on position %s: %w", userID, positionID, ErrNotOwner)
	}
	if position.Kind != PositionKindBorrow {
		return nil, fmt.Errorf("position %s is a %s position", positionID, position.Kind)
	}
	if position.Status != PositionStatusActive {
		return nil, fmt.Errorf("position %s is %s: %w", positionID, position.Status, ErrPositionNotActive)
	}

	pool, err := s.repo.GetPool(ctx, position.PoolID)
	if err != nil {
		return nil, err
	}

	position.Accrue(pool.BorrowRate, s.now())
	debt := position.Debt()
	if amount > debt+debtEpsilon {
		return nil, fmt.Errorf("repay %f against debt %f: %w", amount, debt, ErrOverRepayment)
	}

	fromInterest := math.Min(amount, position.InterestAccrued)
	position.InterestAccrued -= fromInterest
	fromPrincipal := amount - fromInterest
	position.Principal -= fromPrincipal

	if position.Debt() <= debtEpsilon {
		position.Principal = 0
		position.InterestAccrued = 0
		position.CollateralAmount = 0
		position.Status = PositionStatusClosed
		position.HealthFactor = 0
	} else if hf, err := s.liveHealthFactor(ctx, pool, position); err == nil {
		position.HealthFactor = hf
	}

	if err := s.repo.UpdatePosition(ctx, position, position.Version); err != nil {
		return nil, err
	}

	pool.TotalBorrow -= fromPrincipal
	pool.RecomputeUtilization()
	if err := s.repo.UpdatePool(ctx, pool, pool.Version); err != nil {
		return nil, err
	}

	s.logger.Info("Debt repaid",
		zap.String("position_id", position.ID),
		zap.Float64("amount", amount),
		zap.String("status", string(position.Status)))
	return position, nil
}

// Liquidate seizes collateral from an underwater borrow. The decision uses
// the live health factor only; a position at exactly 1.0 survives. The
// liquidator receives the debt value plus a bonus, in collateral units.
func (s *Service) Liquidate(ctx context.Context, liquidatorID, positionID string) (float64, error) {
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
	if position.Kind != PositionKindBorrow {
		return 0, fmt.Errorf("position %s is a %s position", positionID, position.Kind)
	}
	if position.Status != PositionStatusActive {
		return 0, fmt.Errorf("position %s is %s: %w", positionID, position.Status, ErrPositionNotActive)
	}

	pool, err := s.repo.GetPool(ctx, position.PoolID)
	if err != nil {
		return 0, err
	}

	position.Accrue(pool.BorrowRate, s.now())

	collateralPrice, err := s.prices.GetPrice(ctx, position.CollateralAsset)
	if err != nil {
		return 0, fmt.Errorf("failed to price collateral %s: %w", position.CollateralAsset, err)
	}
	assetPrice, err := s.prices.GetPrice(ctx, pool.Asset)
	if err != nil {
		return 0, fmt.Errorf("failed to price %s: %w", pool.Asset, err)
	}

	debtValue := position.Debt() * assetPrice
	healthFactor := math.Inf(1)
	if debtValue > debtEpsilon {
		healthFactor = position.CollateralAmount * collateralPrice * pool.LiquidationThreshold / debtValue
	}
	if healthFactor >= 1.0 {
		return 0, fmt.Errorf("position %s health factor %f: %w", positionID, healthFactor, ErrNotLiquidatable)
	}

	seized := debtValue * (1 + s.cfg.LiquidationBonus) / collateralPrice
	if seized > position.CollateralAmount {
		seized = position.CollateralAmount
	}

	principal := position.Principal
	if !s.machine.CanTransition(string(position.Status), string(PositionStatusLiquidated)) {
		return 0, fmt.Errorf("position %s is %s: %w", positionID, position.Status, ErrPositionNotActive)
	}
	position.Status = PositionStatusLiquidated
	position.CollateralAmount -= seized
	position.HealthFactor = healthFactor
	if err := s.repo.UpdatePosition(ctx, position, position.Version); err != nil {
		return 0, err
	}

	pool.TotalBorrow -= principal
	pool.RecomputeUtilization()
	if err := s.repo.UpdatePool(ctx, pool, pool.Version); err != nil {
		return 0, err
	}

	s.logger.Info("Position liquidated",
		zap.String("position_id", position.ID),
		zap.String("liquidator_id", liquidatorID),
		zap.Float64("health_factor", healthFactor),
		zap.Float64("seized_collateral", seized))

	s.events.Publish(ctx, notifications.Event{
		Type:       notifications.EventPositionLiquidated,
		UserID:     position.UserID,
		PoolID:     pool.ID,
		PositionID: position.ID,
		Amount:     seized,
		Metadata:   map[string]interface{}{"liquidator_id": liquidatorID},
		OccurredAt: s.now(),
	})
	return seized, nil
}

// GetPosition returns a position with interest accrued to now and, for
// active borrows, a refreshed display health factor.
func (s *Service) GetPosition(ctx context.Context, positionID string) (*Position, error) {
	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	pool, err := s.repo.GetPool(ctx, position.PoolID)
	if err != nil {
		return nil, err
	}

	rate := pool.SupplyRate
	if position.Kind == PositionKindBorrow {
		rate = pool.BorrowRate
	}
	position.Accrue(rate, s.now())

	if position.Kind == PositionKindBorrow && position.Status == PositionStatusActive {
		if hf, err := s.liveHealthFactor(ctx, pool, position); err == nil {
			position.HealthFactor = hf
		} else if !errors.Is(err, oracle.ErrPriceUnavailable) {
			return nil, err
		}
	}
	return position, nil
}

// ListUserPositions returns every position the user has ever held.
func (s *Service) ListUserPositions(ctx context.Context, userID string) ([]Position, error) {
	return s.repo.ListUserPositions(ctx, userID)
}

func (s *Service) liveHealthFactor(ctx context.Context, pool *LendingPool, position *Position) (float64, error) {
	collateralPrice, err := s.prices.GetPrice(ctx, position.CollateralAsset)
	if err != nil {
		return 0, err
	}
	assetPrice, err := s.prices.GetPrice(ctx, pool.Asset)
	if err != nil {
		return 0, err
	}
	debtValue := position.Debt() * assetPrice
	if debtValue <= debtEpsilon {
		return math.Inf(1), nil
	}
	return position.CollateralAmount * collateralPrice * pool.LiquidationThreshold / debtValue, nil
}
