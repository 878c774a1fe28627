package lending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreatePool(ctx context.Context, pool *LendingPool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lending_pools
			(id, asset, total_supply, total_borrow, supply_rate, borrow_rate,
			 collateral_factor, liquidation_threshold, utilization_rate,
			 version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`,
		pool.ID, pool.Asset, pool.TotalSupply, pool.TotalBorrow,
		pool.SupplyRate, pool.BorrowRate, pool.CollateralFactor,
		pool.LiquidationThreshold, pool.UtilizationRate, pool.Version)
	if err != nil {
		return fmt.Errorf("failed to insert pool: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetPool(ctx context.Context, poolID string) (*LendingPool, error) {
	var pool LendingPool
	err := r.db.GetContext(ctx, &pool, `
		SELECT id, asset, total_supply, total_borrow, supply_rate, borrow_rate,
		       collateral_factor, liquidation_threshold, utilization_rate,
		       version, created_at, updated_at
		FROM lending_pools WHERE id = $1`, poolID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", poolID, ErrPoolNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool: %w", err)
	}
	return &pool, nil
}

func (r *PostgresRepository) UpdatePool(ctx context.Context, pool *LendingPool, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE lending_pools
		SET total_supply = $1, total_borrow = $2, supply_rate = $3,
		    borrow_rate = $4, utilization_rate = $5,
		    version = version + 1, updated_at = NOW()
		WHERE id = $6 AND version = $7`,
		pool.TotalSupply, pool.TotalBorrow, pool.SupplyRate, pool.BorrowRate,
		pool.UtilizationRate, pool.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update pool: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pool %s at version %d: %w", pool.ID, expectedVersion, ErrVersionConflict)
	}
	pool.Version = expectedVersion + 1
	return nil
}

func (r *PostgresRepository) ListPools(ctx context.Context) ([]LendingPool, error) {
	var pools []LendingPool
	err := r.db.SelectContext(ctx, &pools, `
		SELECT id, asset, total_supply, total_borrow, supply_rate, borrow_rate,
		       collateral_factor, liquidation_threshold, utilization_rate,
		       version, created_at, updated_at
		FROM lending_pools ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	return pools, nil
}

func (r *PostgresRepository) CreatePosition(ctx context.Context, position *Position) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lending_positions
			(id, user_id, pool_id, kind, principal, interest_accrued,
			 collateral_asset, collateral_amount, health_factor, status,
			 last_accrual_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`,
		position.ID, position.UserID, position.PoolID, position.Kind,
		position.Principal, position.InterestAccrued, position.CollateralAsset,
		position.CollateralAmount, position.HealthFactor, position.Status,
		position.LastAccrualAt, position.Version)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetPosition(ctx context.Context, positionID string) (*Position, error) {
	var position Position
	err := r.db.GetContext(ctx, &position, `
		SELECT id, user_id, pool_id, kind, principal, interest_accrued,
		       collateral_asset, collateral_amount, health_factor, status,
		       last_accrual_at, version, created_at, updated_at
		FROM lending_positions WHERE id = $1`, positionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrPositionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	return &position, nil
}

func (r *PostgresRepository) UpdatePosition(ctx context.Context, position *Position, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE lending_positions
		SET principal = $1, interest_accrued = $2, collateral_amount = $3,
		    health_factor = $4, status = $5, last_accrual_at = $6,
		    version = version + 1, updated_at = NOW()
		WHERE id = $7 AND version = $8`,
		position.Principal, position.InterestAccrued, position.CollateralAmount,
		position.HealthFactor, position.Status, position.LastAccrualAt,
		position.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("position %s at version %d: %w", position.ID, expectedVersion, ErrVersionConflict)
	}
	position.Version = expectedVersion + 1
	return nil
}

func (r *PostgresRepository) FindActivePosition(ctx context.Context, userID, poolID string, kind PositionKind) (*Position, error) {
	var position Position
	err := r.db.GetContext(ctx, &position, `
		SELECT id, user_id, pool_id, kind, principal, interest_accrued,
		       collateral_asset, collateral_amount, health_factor, status,
		       last_accrual_at, version, created_at, updated_at
		FROM lending_positions
		WHERE user_id = $1 AND pool_id = $2 AND kind = $3 AND status = $4
		ORDER BY created_at LIMIT 1`,
		userID, poolID, kind, PositionStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find position: %w", err)
	}
	return &position, nil
}

func (r *PostgresRepository) ListUserPositions(ctx context.Context, userID string) ([]Position, error) {
	var positions []Position
	err := r.db.SelectContext(ctx, &positions, `
		SELECT id, user_id, pool_id, kind, principal, interest_accrued,
		       collateral_asset, collateral_amount, health_factor, status,
		       last_accrual_at, version, created_at, updated_at
		FROM lending_positions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return positions, nil
}
