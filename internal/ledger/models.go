package ledger

import (
	"fmt"
	"math"
	"time"
)

// PercentageTolerance is the accepted drift when checking that ownership
// percentages sum to 100.
const PercentageTolerance = 1e-6

// PricePoint is one entry in an asset's price history.
type PricePoint struct {
	Price      float64   `json:"price"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OwnershipRecord is one holder's stake in a tokenized asset.
type OwnershipRecord struct {
	OwnerID             string    `json:"owner_id" db:"owner_id"`
	UnitsOwned          float64   `json:"units_owned" db:"units_owned"`
	OwnershipPercentage float64   `json:"ownership_percentage" db:"ownership_percentage"`
	AverageCost         float64   `json:"average_cost" db:"average_cost"`
	InvestmentAmount    float64   `json:"investment_amount" db:"investment_amount"`
	AcquisitionDate     time.Time `json:"acquisition_date" db:"acquisition_date"`
}

// TokenizedAsset is the ledger aggregate: supply totals plus the full set
// of ownership records. It is mutated only through ledger operations and
// persisted with an optimistic version.
type TokenizedAsset struct {
	ID                string            `json:"id"`
	TotalSupply       float64           `json:"total_supply"`
	CirculatingSupply float64           `json:"circulating_supply"`
	PricePerUnit      float64           `json:"price_per_unit"`
	PriceHistory      []PricePoint      `json:"price_history"`
	TradingEnabled    bool              `json:"trading_enabled"`
	Halted            bool              `json:"halted"`
	Records           []OwnershipRecord `json:"records"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Record returns the ownership record for ownerID, or nil.
func (a *TokenizedAsset) Record(ownerID string) *OwnershipRecord {
	for i := range a.Records {
		if a.Records[i].OwnerID == ownerID {
			return &a.Records[i]
		}
	}
	return nil
}

// CheckInvariants verifies that units sum to the circulating supply and
// percentages sum to 100 within tolerance.
func (a *TokenizedAsset) CheckInvariants() error {
	var units, pct float64
	for _, r := range a.Records {
		units += r.UnitsOwned
		pct += r.OwnershipPercentage
	}

	if math.Abs(units-a.CirculatingSupply) > PercentageTolerance {
		return fmt.Errorf("asset %s: units %.9f != circulating supply %.9f: %w",
			a.ID, units, a.CirculatingSupply, ErrPercentageInvariant)
	}
	if math.Abs(pct-100) > PercentageTolerance {
		return fmt.Errorf("asset %s: percentages sum to %.9f: %w", a.ID, pct, ErrPercentageInvariant)
	}
	return nil
}

// DistributionSnapshot is a consistent view of an asset's ownership,
// suitable for revenue distribution and invariant checks.
type DistributionSnapshot struct {
	AssetID           string            `json:"asset_id"`
	TotalSupply       float64           `json:"total_supply"`
	CirculatingSupply float64           `json:"circulating_supply"`
	PricePerUnit      float64           `json:"price_per_unit"`
	TradingEnabled    bool              `json:"trading_enabled"`
	Halted            bool              `json:"halted"`
	Records           []OwnershipRecord `json:"records"`
	Version           int64             `json:"version"`
	TakenAt           time.Time         `json:"taken_at"`
}
