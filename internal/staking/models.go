package staking

import (
	"time"
)

// StakeStatus values for a stake position. Positions are never deleted;
// unstaking closes them and keeps the record for audit.
type StakeStatus string

const (
	StakeStatusActive StakeStatus = "active"
	StakeStatusClosed StakeStatus = "closed"
)

// LockupTier maps a lockup length to its reward multiplier.
type LockupTier struct {
	Days       int     `json:"days"`
	Multiplier float64 `json:"multiplier"`
}

// StakingPool accrues daily rewards to stakers proportionally to their
// share of TotalStaked.
type StakingPool struct {
	ID              string       `db:"id" json:"id"`
	Asset           string       `db:"asset" json:"asset"`
	TotalStaked     float64      `db:"total_staked" json:"total_staked"`
	DailyRewardRate float64      `db:"daily_reward_rate" json:"daily_reward_rate"`
	MinStakeAmount  float64      `db:"min_stake_amount" json:"min_stake_amount"`
	LockupTiers     []LockupTier `db:"-" json:"lockup_tiers"`
	Version         int64        `db:"version" json:"version"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Tier returns the lockup tier matching days, or nil.
func (p *StakingPool) Tier(days int) *LockupTier {
	for i := range p.LockupTiers {
		if p.LockupTiers[i].Days == days {
			return &p.LockupTiers[i]
		}
	}
	return nil
}

// StakePosition is one user's stake in a pool.
type StakePosition struct {
	ID             string      `db:"id" json:"id"`
	UserID         string      `db:"user_id" json:"user_id"`
	PoolID         string      `db:"pool_id" json:"pool_id"`
	Amount         float64     `db:"amount" json:"amount"`
	StartDate      time.Time   `db:"start_date" json:"start_date"`
	LockupDays     int         `db:"lockup_days" json:"lockup_days"`
	TierMultiplier float64     `db:"tier_multiplier" json:"tier_multiplier"`
	RewardsAccrued float64     `db:"rewards_accrued" json:"rewards_accrued"`
	RewardsClaimed float64     `db:"rewards_claimed" json:"rewards_claimed"`
	LastClaimAt    time.Time   `db:"last_claim_at" json:"last_claim_at"`
	Status         StakeStatus `db:"status" json:"status"`
	Version        int64       `db:"version" json:"version"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// LockupEndsAt is the first instant the stake may be withdrawn.
func (p *StakePosition) LockupEndsAt() time.Time {
	return p.StartDate.Add(time.Duration(p.LockupDays) * 24 * time.Hour)
}

// CreateStakingPoolRequest is the payload for creating a staking pool.
type CreateStakingPoolRequest struct {
	Asset           string       `json:"asset" binding:"required"`
	DailyRewardRate float64      `json:"daily_reward_rate" binding:"required,gt=0"`
	MinStakeAmount  float64      `json:"min_stake_amount" binding:"gte=0"`
	LockupTiers     []LockupTier `json:"lockup_tiers" binding:"required,min=1"`
}

// StakeRequest is the payload for opening a stake.
type StakeRequest struct {
	PoolID     string  `json:"pool_id" binding:"required"`
	Amount     float64 `json:"amount" binding:"required,gt=0"`
	LockupDays int     `json:"lockup_days" binding:"required,gt=0"`
}
