package marketplace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *PostgresRepository) CreateListing(ctx context.Context, listing *Listing) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO listings
			(id, seller_id, asset_id, quantity, price_per_unit, kind, status,
			 minimum_bid, expires_at, pending_escrow_ref, pending_recipient,
			 version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())`,
		listing.ID, listing.SellerID, listing.AssetID, listing.Quantity,
		listing.PricePerUnit, listing.Kind, listing.Status, listing.MinimumBid,
		listing.ExpiresAt, listing.PendingEscrowRef, listing.PendingRecipient,
		listing.Version)
	if err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetListing(ctx context.Context, listingID string) (*Listing, error) {
	var listing Listing
	err := r.db.GetContext(ctx, &listing, `
		SELECT id, seller_id, asset_id, quantity, price_per_unit, kind, status,
		       minimum_bid, expires_at, pending_escrow_ref, pending_recipient,
		       version, created_at, updated_at
		FROM listings WHERE id = $1`, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %s: %w", listingID, ErrListingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}

	if err := r.db.SelectContext(ctx, &listing.Bids, `
		SELECT id, listing_id, bidder_id, amount, status, escrow_ref, placed_at
		FROM bids WHERE listing_id = $1 ORDER BY placed_at`, listingID); err != nil {
		return nil, fmt.Errorf("failed to load bids: %w", err)
	}

	return &listing, nil
}

func (r *PostgresRepository) UpdateListing(ctx context.Context, listing *Listing, expectedVersion int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE listings
		SET quantity = $1, price_per_unit = $2, status = $3, minimum_bid = $4,
		    expires_at = $5, pending_escrow_ref = $6, pending_recipient = $7,
		    version = version + 1, updated_at = NOW()
		WHERE id = $8 AND version = $9`,
		listing.Quantity, listing.PricePerUnit, listing.Status, listing.MinimumBid,
		listing.ExpiresAt, listing.PendingEscrowRef, listing.PendingRecipient,
		listing.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("listing %s at version %d: %w", listing.ID, expectedVersion, ErrVersionConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bids WHERE listing_id = $1`, listing.ID); err != nil {
		return fmt.Errorf("failed to clear bids: %w", err)
	}
	for _, bid := range listing.Bids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bids
				(id, listing_id, bidder_id, amount, status, escrow_ref, placed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			bid.ID, bid.ListingID, bid.BidderID, bid.Amount, bid.Status,
			bid.EscrowRef, bid.PlacedAt)
		if err != nil {
			return fmt.Errorf("failed to insert bid %s: %w", bid.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	listing.Version = expectedVersion + 1
	return nil
}

func (r *PostgresRepository) ListByAsset(ctx context.Context, assetID string, status ListingStatus) ([]Listing, error) {
	query := `
		SELECT id, seller_id, asset_id, quantity, price_per_unit, kind, status,
		       minimum_bid, expires_at, pending_escrow_ref, pending_recipient,
		       version, created_at, updated_at
		FROM listings WHERE asset_id = $1`
	args := []interface{}{assetID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	var listings []Listing
	if err := r.db.SelectContext(ctx, &listings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	return listings, nil
}

func (r *PostgresRepository) CountForAsset(ctx context.Context, assetID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM listings WHERE asset_id = $1`, assetID)
	if err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) ExpiredListingIDs(ctx context.Context, asOf time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM listings
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at LIMIT $3`, ListingStatusActive, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired listings: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) PendingSettlementIDs(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM listings
		WHERE pending_escrow_ref <> ''
		ORDER BY updated_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending settlements: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) RecordTrade(ctx context.Context, tick *TradeTick) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trade_ticks
			(id, asset_id, listing_id, price, quantity, seller_id, buyer_id, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tick.ID, tick.AssetID, tick.ListingID, tick.Price, tick.Quantity,
		tick.SellerID, tick.BuyerID, tick.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListTrades(ctx context.Context, assetID string, limit int) ([]TradeTick, error) {
	var ticks []TradeTick
	err := r.db.SelectContext(ctx, &ticks, `
		SELECT id, asset_id, listing_id, price, quantity, seller_id, buyer_id, executed_at
		FROM trade_ticks WHERE asset_id = $1
		ORDER BY executed_at DESC LIMIT $2`, assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return ticks, nil
}
