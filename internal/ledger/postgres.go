package ledger

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

type assetRow struct {
	ID                string  `db:"id"`
	TotalSupply       float64 `db:"total_supply"`
	CirculatingSupply float64 `db:"circulating_supply"`
	PricePerUnit      float64 `db:"price_per_unit"`
	PriceHistory      []byte  `db:"price_history"`
	TradingEnabled    bool    `db:"trading_enabled"`
	Halted            bool    `db:"halted"`
	Version           int64   `db:"version"`
	CreatedAt         sql.NullTime `db:"created_at"`
	UpdatedAt         sql.NullTime `db:"updated_at"`
}

func (r *PostgresRepository) GetAsset(ctx context.Context, assetID string) (*TokenizedAsset, error) {
	var row assetRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, total_supply, circulating_supply, price_per_unit,
		       price_history, trading_enabled, halted, version, created_at, updated_at
		FROM tokenized_assets WHERE id = $1`, assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", assetID, ErrAssetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}

	asset := &TokenizedAsset{
		ID:                row.ID,
		TotalSupply:       row.TotalSupply,
		CirculatingSupply: row.CirculatingSupply,
		PricePerUnit:      row.PricePerUnit,
		TradingEnabled:    row.TradingEnabled,
		Halted:            row.Halted,
		Version:           row.Version,
		CreatedAt:         row.CreatedAt.Time,
		UpdatedAt:         row.UpdatedAt.Time,
	}
	if len(row.PriceHistory) > 0 {
		if err := json.Unmarshal(row.PriceHistory, &asset.PriceHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal price history: %w", err)
		}
	}

	if err := r.db.SelectContext(ctx, &asset.Records, `
		SELECT owner_id, units_owned, ownership_percentage, average_cost,
		       investment_amount, acquisition_date
		FROM ownership_records WHERE asset_id = $1 ORDER BY owner_id`, assetID); err != nil {
		return nil, fmt.Errorf("failed to load ownership records: %w", err)
	}

	return asset, nil
}

func (r *PostgresRepository) CreateAsset(ctx context.Context, asset *TokenizedAsset) error {
	history, err := json.Marshal(asset.PriceHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal price history: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tokenized_assets
			(id, total_supply, circulating_supply, price_per_unit, price_history,
			 trading_enabled, halted, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		asset.ID, asset.TotalSupply, asset.CirculatingSupply, asset.PricePerUnit,
		history, asset.TradingEnabled, asset.Halted, asset.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("asset %s: %w", asset.ID, ErrAssetExists)
		}
		return fmt.Errorf("failed to insert asset: %w", err)
	}

	if err := insertRecords(ctx, tx, asset.ID, asset.Records); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateAsset(ctx context.Context, asset *TokenizedAsset, expectedVersion int64) error {
	history, err := json.Marshal(asset.PriceHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal price history: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tokenized_assets
		SET total_supply = $1, circulating_supply = $2, price_per_unit = $3,
		    price_history = $4, trading_enabled = $5, halted = $6,
		    version = version + 1, updated_at = NOW()
		WHERE id = $7 AND version = $8`,
		asset.TotalSupply, asset.CirculatingSupply, asset.PricePerUnit,
		history, asset.TradingEnabled, asset.Halted, asset.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("asset %s at version %d: %w", asset.ID, expectedVersion, ErrVersionConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ownership_records WHERE asset_id = $1`, asset.ID); err != nil {
		return fmt.Errorf("failed to clear ownership records: %w", err)
	}
	if err := insertRecords(ctx, tx, asset.ID, asset.Records); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	asset.Version = expectedVersion + 1
	return nil
}

func insertRecords(ctx context.Context, tx *sqlx.Tx, assetID string, records []OwnershipRecord) error {
	for _, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ownership_records
				(asset_id, owner_id, units_owned, ownership_percentage,
				 average_cost, investment_amount, acquisition_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			assetID, rec.OwnerID, rec.UnitsOwned, rec.OwnershipPercentage,
			rec.AverageCost, rec.InvestmentAmount, rec.AcquisitionDate)
		if err != nil {
			return fmt.Errorf("failed to insert ownership record for %s: %w", rec.OwnerID, err)
		}
	}
	return nil
}
