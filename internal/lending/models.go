package lending

import (
	"time"
)

// PositionKind separates deposits from debt.
type PositionKind string

const (
	PositionKindSupply PositionKind = "supply"
	PositionKindBorrow PositionKind = "borrow"
)

// PositionStatus values follow the position state machine.
type PositionStatus string

const (
	PositionStatusActive     PositionStatus = "active"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// LendingPool holds liquidity for one asset. Rates are annual fractions,
// risk parameters are fractions of collateral value.
type LendingPool struct {
	ID                   string    `db:"id" json:"id"`
	Asset                string    `db:"asset" json:"asset"`
	TotalSupply          float64   `db:"total_supply" json:"total_supply"`
	TotalBorrow          float64   `db:"total_borrow" json:"total_borrow"`
	SupplyRate           float64   `db:"supply_rate" json:"supply_rate"`
	BorrowRate           float64   `db:"borrow_rate" json:"borrow_rate"`
	CollateralFactor     float64   `db:"collateral_factor" json:"collateral_factor"`
	LiquidationThreshold float64   `db:"liquidation_threshold" json:"liquidation_threshold"`
	UtilizationRate      float64   `db:"utilization_rate" json:"utilization_rate"`
	Version              int64     `db:"version" json:"version"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// AvailableLiquidity is the amount not currently lent out.
func (p *LendingPool) AvailableLiquidity() float64 {
	return p.TotalSupply - p.TotalBorrow
}

// RecomputeUtilization refreshes the stored utilization rate.
func (p *LendingPool) RecomputeUtilization() {
	if p.TotalSupply <= 0 {
		p.UtilizationRate = 0
		return
	}
	p.UtilizationRate = p.TotalBorrow / p.TotalSupply
}

// Position is one user's supply or borrow in a pool. HealthFactor is a
// display cache; liquidation decisions always recompute from live prices.
type Position struct {
	ID               string         `db:"id" json:"id"`
	UserID           string         `db:"user_id" json:"user_id"`
	PoolID           string         `db:"pool_id" json:"pool_id"`
	Kind             PositionKind   `db:"kind" json:"kind"`
	Principal        float64        `db:"principal" json:"principal"`
	InterestAccrued  float64        `db:"interest_accrued" json:"interest_accrued"`
	CollateralAsset  string         `db:"collateral_asset" json:"collateral_asset"`
	CollateralAmount float64        `db:"collateral_amount" json:"collateral_amount"`
	HealthFactor     float64        `db:"health_factor" json:"health_factor"`
	Status           PositionStatus `db:"status" json:"status"`
	LastAccrualAt    time.Time      `db:"last_accrual_at" json:"last_accrual_at"`
	Version          int64          `db:"version" json:"version"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// Debt is the outstanding amount on a borrow position, interest included.
func (p *Position) Debt() float64 {
	return p.Principal + p.InterestAccrued
}

// Accrue applies daily-prorated interest for whole days elapsed since the
// last accrual. Partial days carry over to the next accrual so no window
// is counted twice.
func (p *Position) Accrue(annualRate float64, now time.Time) {
	if p.Status != PositionStatusActive || p.LastAccrualAt.IsZero() {
		return
	}
	days := int(now.Sub(p.LastAccrualAt).Hours() / 24)
	if days <= 0 {
		return
	}
	p.InterestAccrued += p.Principal * annualRate / 365 * float64(days)
	p.LastAccrualAt = p.LastAccrualAt.Add(time.Duration(days) * 24 * time.Hour)
}

// CreatePoolRequest is the payload for creating a lending pool.
type CreatePoolRequest struct {
	Asset                string  `json:"asset" binding:"required"`
	SupplyRate           float64 `json:"supply_rate" binding:"gte=0"`
	BorrowRate           float64 `json:"borrow_rate" binding:"gte=0"`
	CollateralFactor     float64 `json:"collateral_factor" binding:"required,gt=0,lte=1"`
	LiquidationThreshold float64 `json:"liquidation_threshold" binding:"required,gt=0,lte=1"`
}

// SupplyRequest is the payload for supplying liquidity.
type SupplyRequest struct {
	PoolID string  `json:"pool_id" binding:"required"`
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// BorrowRequest is the payload for opening a borrow position.
type BorrowRequest struct {
	PoolID           string  `json:"pool_id" binding:"required"`
	Amount           float64 `json:"amount" binding:"required,gt=0"`
	CollateralAsset  string  `json:"collateral_asset" binding:"required"`
	CollateralAmount float64 `json:"collateral_amount" binding:"required,gt=0"`
}

// RepayRequest is the payload for repaying debt.
type RepayRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// WithdrawRequest is the payload for withdrawing supplied liquidity.
type WithdrawRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}
