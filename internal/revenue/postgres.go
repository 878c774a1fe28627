package revenue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type distributionRow struct {
	ID            string       `db:"id"`
	AssetID       string       `db:"asset_id"`
	Period        string       `db:"period"`
	TotalRevenue  float64      `db:"total_revenue"`
	ManagementFee float64      `db:"management_fee"`
	Reserve       float64      `db:"reserve"`
	Distributable float64      `db:"distributable"`
	Shares        []byte       `db:"shares"`
	DistributedAt sql.NullTime `db:"distributed_at"`
}

func (r *PostgresRepository) CreateDistribution(ctx context.Context, distribution *Distribution) error {
	shares, err := json.Marshal(distribution.Shares)
	if err != nil {
		return fmt.Errorf("failed to marshal shares: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO revenue_distributions
			(id, asset_id, period, total_revenue, management_fee, reserve,
			 distributable, shares, distributed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		distribution.ID, distribution.AssetID, distribution.Period,
		distribution.TotalRevenue, distribution.ManagementFee,
		distribution.Reserve, distribution.Distributable, shares,
		distribution.DistributedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("asset %s period %s: %w",
				distribution.AssetID, distribution.Period, ErrDistributionExists)
		}
		return fmt.Errorf("failed to insert distribution: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByAsset(ctx context.Context, assetID string) ([]Distribution, error) {
	var rows []distributionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, asset_id, period, total_revenue, management_fee, reserve,
		       distributable, shares, distributed_at
		FROM revenue_distributions
		WHERE asset_id = $1 ORDER BY distributed_at DESC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions: %w", err)
	}

	out := make([]Distribution, 0, len(rows))
	for _, row := range rows {
		d := Distribution{
			ID:            row.ID,
			AssetID:       row.AssetID,
			Period:        row.Period,
			TotalRevenue:  row.TotalRevenue,
			ManagementFee: row.ManagementFee,
			Reserve:       row.Reserve,
			Distributable: row.Distributable,
			DistributedAt: row.DistributedAt.Time,
		}
		if len(row.Shares) > 0 {
			if err := json.Unmarshal(row.Shares, &d.Shares); err != nil {
				return nil, fmt.Errorf("failed to unmarshal shares: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, nil
}
