package staking

import (
	"context"
	"database/sql"
	"encoding/json"
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

type poolRow struct {
	ID              string       `db:"id"`
	Asset           string       `db:"asset"`
	TotalStaked     float64      `db:"total_staked"`
	DailyRewardRate float64      `db:"daily_reward_rate"`
	MinStakeAmount  float64      `db:"min_stake_amount"`
	LockupTiers     []byte       `db:"lockup_tiers"`
	Version         int64        `db:"version"`
	CreatedAt       sql.NullTime `db:"created_at"`
	UpdatedAt       sql.NullTime `db:"updated_at"`
}

func (row *poolRow) toPool() (*StakingPool, error) {
	pool := &StakingPool{
		ID:              row.ID,
		Asset:           row.Asset,
		TotalStaked:     row.TotalStaked,
		DailyRewardRate: row.DailyRewardRate,
		MinStakeAmount:  row.MinStakeAmount,
		Version:         row.Version,
		CreatedAt:       row.CreatedAt.Time,
		UpdatedAt:       row.UpdatedAt.Time,
	}
	if len(row.LockupTiers) > 0 {
		if err := json.Unmarshal(row.LockupTiers, &pool.LockupTiers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lockup tiers: %w", err)
		}
	}
	return pool, nil
}

func (r *PostgresRepository) CreatePool(ctx context.Context, pool *StakingPool) error {
	tiers, err := json.Marshal(pool.LockupTiers)
	if err != nil {
		return fmt.Errorf("failed to marshal lockup tiers: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO staking_pools
			(id, asset, total_staked, daily_reward_rate, min_stake_amount,
			 lockup_tiers, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		pool.ID, pool.Asset, pool.TotalStaked, pool.DailyRewardRate,
		pool.MinStakeAmount, tiers, pool.Version)
	if err != nil {
		return fmt.Errorf("failed to insert staking pool: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetPool(ctx context.Context, poolID string) (*StakingPool, error) {
	var row poolRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, asset, total_staked, daily_reward_rate, min_stake_amount,
		       lockup_tiers, version, created_at, updated_at
		FROM staking_pools WHERE id = $1`, poolID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", poolID, ErrPoolNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load staking pool: %w", err)
	}
	return row.toPool()
}

func (r *PostgresRepository) UpdatePool(ctx context.Context, pool *StakingPool, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE staking_pools
		SET total_staked = $1, daily_reward_rate = $2,
		    version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`,
		pool.TotalStaked, pool.DailyRewardRate, pool.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update staking pool: %w", err)
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

func (r *PostgresRepository) ListPools(ctx context.Context) ([]StakingPool, error) {
	var rows []poolRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, asset, total_staked, daily_reward_rate, min_stake_amount,
		       lockup_tiers, version, created_at, updated_at
		FROM staking_pools ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list staking pools: %w", err)
	}

	pools := make([]StakingPool, 0, len(rows))
	for i := range rows {
		pool, err := rows[i].toPool()
		if err != nil {
			return nil, err
		}
		pools = append(pools, *pool)
	}
	return pools, nil
}

func (r *PostgresRepository) CreatePosition(ctx context.Context, position *StakePosition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stake_positions
			(id, user_id, pool_id, amount, start_date, lockup_days,
			 tier_multiplier, rewards_accrued, rewards_claimed, last_claim_at,
			 status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`,
		position.ID, position.UserID, position.PoolID, position.Amount,
		position.StartDate, position.LockupDays, position.TierMultiplier,
		position.RewardsAccrued, position.RewardsClaimed, position.LastClaimAt,
		position.Status, position.Version)
	if err != nil {
		return fmt.Errorf("failed to insert stake position: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetPosition(ctx context.Context, positionID string) (*StakePosition, error) {
	var position StakePosition
	err := r.db.GetContext(ctx, &position, `
		SELECT id, user_id, pool_id, amount, start_date, lockup_days,
		       tier_multiplier, rewards_accrued, rewards_claimed, last_claim_at,
		       status, version, created_at, updated_at
		FROM stake_positions WHERE id = $1`, positionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stake %s: %w", positionID, ErrPositionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stake position: %w", err)
	}
	return &position, nil
}

func (r *PostgresRepository) UpdatePosition(ctx context.Context, position *StakePosition, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE stake_positions
		SET amount = $1, rewards_accrued = $2, rewards_claimed = $3,
		    last_claim_at = $4, status = $5,
		    version = version + 1, updated_at = NOW()
		WHERE id = $6 AND version = $7`,
		position.Amount, position.RewardsAccrued, position.RewardsClaimed,
		position.LastClaimAt, position.Status, position.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update stake position: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("stake %s at version %d: %w", position.ID, expectedVersion, ErrVersionConflict)
	}
	position.Version = expectedVersion + 1
	return nil
}

func (r *PostgresRepository) ListUserPositions(ctx context.Context, userID string) ([]StakePosition, error) {
	var positions []StakePosition
	err := r.db.SelectContext(ctx, &positions, `
		SELECT id, user_id, pool_id, amount, start_date, lockup_days,
		       tier_multiplier, rewards_accrued, rewards_claimed, last_claim_at,
		       status, version, created_at, updated_at
		FROM stake_positions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stake positions: %w", err)
	}
	return positions, nil
}
