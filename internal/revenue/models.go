package revenue

import (
	"time"
)

// OwnerShare is one owner's slice of a distribution.
type OwnerShare struct {
	OwnerID    string  `json:"owner_id"`
	Percentage float64 `json:"percentage"`
	Amount     float64 `json:"amount"`
}

// Distribution records one revenue payout over an asset's ownership
// snapshot.
type Distribution struct {
	ID            string       `db:"id" json:"id"`
	AssetID       string       `db:"asset_id" json:"asset_id"`
	Period        string       `db:"period" json:"period"`
	TotalRevenue  float64      `db:"total_revenue" json:"total_revenue"`
	ManagementFee float64      `db:"management_fee" json:"management_fee"`
	Reserve       float64      `db:"reserve" json:"reserve"`
	Distributable float64      `db:"distributable" json:"distributable"`
	Shares        []OwnerShare `db:"-" json:"shares"`
	DistributedAt time.Time    `db:"distributed_at" json:"distributed_at"`
}

// DistributeRequest is the payload for distributing revenue.
type DistributeRequest struct {
	AssetID      string  `json:"asset_id" binding:"required"`
	Period       string  `json:"period" binding:"required"`
	TotalRevenue float64 `json:"total_revenue" binding:"required,gt=0"`
}
