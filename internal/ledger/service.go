package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/pkg/locks"
)

// casRetries bounds how many times a lost compare-and-swap is replayed.
const casRetries = 3

// unitEpsilon absorbs float noise when comparing unit quantities.
const unitEpsilon = 1e-9

// Service is the authoritative ownership ledger. Every mutation on one
// asset runs under that asset's lock so read-modify-write sequences never
// interleave; the repository CAS covers concurrent instances.
type Service struct {
	repo   Repository
	locks  *locks.KeyedMutex
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a ledger service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locks:  locks.NewKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
}

// Mint initializes an asset one time, with the full supply held by ownerID.
func (s *Service) Mint(ctx context.Context, assetID string, totalSupply float64, ownerID string, pricePerUnit float64) (*TokenizedAsset, error) {
	if totalSupply <= 0 {
		return nil, fmt.Errorf("total supply must be positive, got %f", totalSupply)
	}

	now := s.now()
	asset := &TokenizedAsset{
		ID:                assetID,
		TotalSupply:       totalSupply,
		CirculatingSupply: totalSupply,
		PricePerUnit:      pricePerUnit,
		PriceHistory:      []PricePoint{{Price: pricePerUnit, RecordedAt: now}},
		Records: []OwnershipRecord{{
			OwnerID:             ownerID,
			UnitsOwned:          totalSupply,
			OwnershipPercentage: 100,
			AverageCost:         pricePerUnit,
			InvestmentAmount:    totalSupply * pricePerUnit,
			AcquisitionDate:     now,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateAsset(ctx, asset); err != nil {
		return nil, err
	}

	s.logger.Info("asset minted",
		zap.String("asset_id", assetID),
		zap.String("owner_id", ownerID),
		zap.Float64("total_supply", totalSupply))

	return asset, nil
}

// Transfer moves units between owners at unitPrice. The receiving side's
// average cost is recomputed as a size-weighted average so unrealized-gain
// math stays correct. Either both sides commit or neither does.
func (s *Service) Transfer(ctx context.Context, assetID, from, to string, units, unitPrice float64) error {
	if units <= 0 {
		return fmt.Errorf("transfer units must be positive, got %f", units)
	}
	if from == to {
		return fmt.Errorf("cannot transfer to self")
	}

	s.locks.Lock(assetID)
	defer s.locks.Unlock(assetID)

	return s.mutateAsset(ctx, assetID, func(asset *TokenizedAsset) error {
		return s.applyTransfer(asset, from, to, units, unitPrice)
	})
}

func (s *Service) applyTransfer(asset *TokenizedAsset, from, to string, units, unitPrice float64) error {
	sender := asset.Record(from)
	if sender == nil || sender.UnitsOwned+unitEpsilon < units {
		held := 0.0
		if sender != nil {
			held = sender.UnitsOwned
		}
		return fmt.Errorf("owner %s holds %f of %f units: %w", from, held, units, ErrInsufficientUnits)
	}

	if asset.Record(to) == nil {
		asset.Records = append(asset.Records, OwnershipRecord{
			OwnerID:         to,
			AcquisitionDate: s.now(),
		})
	}

	// Re-resolve after the append; it may have moved the backing array.
	sender = asset.Record(from)
	receiver := asset.Record(to)

	// Sender keeps their average cost; the sold units take their cost basis
	// with them.
	sender.UnitsOwned -= units
	sender.InvestmentAmount -= units * sender.AverageCost
	if sender.UnitsOwned < unitEpsilon {
		sender.UnitsOwned = 0
		sender.InvestmentAmount = 0
	}

	oldUnits := receiver.UnitsOwned
	oldInvestment := receiver.InvestmentAmount
	receiver.UnitsOwned = oldUnits + units
	receiver.InvestmentAmount = oldInvestment + units*unitPrice
	receiver.AverageCost = receiver.InvestmentAmount / receiver.UnitsOwned

	sender.OwnershipPercentage = sender.UnitsOwned / asset.TotalSupply * 100
	receiver.OwnershipPercentage = receiver.UnitsOwned / asset.TotalSupply * 100

	if sender.UnitsOwned == 0 {
		filtered := asset.Records[:0]
		for _, r := range asset.Records {
			if r.OwnerID != from {
				filtered = append(filtered, r)
			}
		}
		asset.Records = filtered
	}

	return nil
}

// GetAsset returns the current state of an asset.
func (s *Service) GetAsset(ctx context.Context, assetID string) (*TokenizedAsset, error) {
	return s.repo.GetAsset(ctx, assetID)
}

// GetDistribution returns a consistent ownership snapshot of an asset.
func (s *Service) GetDistribution(ctx context.Context, assetID string) (*DistributionSnapshot, error) {
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if err := asset.CheckInvariants(); err != nil {
		s.haltAsset(ctx, asset, err)
		return nil, err
	}

	records := make([]OwnershipRecord, len(asset.Records))
	copy(records, asset.Records)

	return &DistributionSnapshot{
		AssetID:           asset.ID,
		TotalSupply:       asset.TotalSupply,
		CirculatingSupply: asset.CirculatingSupply,
		PricePerUnit:      asset.PricePerUnit,
		TradingEnabled:    asset.TradingEnabled,
		Halted:            asset.Halted,
		Records:           records,
		Version:           asset.Version,
		TakenAt:           s.now(),
	}, nil
}

// EnableTrading marks the asset tradeable. Called by the marketplace when
// the first listing is created.
func (s *Service) EnableTrading(ctx context.Context, assetID string) error {
	s.locks.Lock(assetID)
	defer s.locks.Unlock(assetID)

	return s.mutateAsset(ctx, assetID, func(asset *TokenizedAsset) error {
		asset.TradingEnabled = true
		return nil
	})
}

// RecordPrice appends a price tick and updates the asset's current price.
func (s *Service) RecordPrice(ctx context.Context, assetID string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("price must be positive, got %f", price)
	}

	s.locks.Lock(assetID)
	defer s.locks.Unlock(assetID)

	return s.mutateAsset(ctx, assetID, func(asset *TokenizedAsset) error {
		asset.PricePerUnit = price
		asset.PriceHistory = append(asset.PriceHistory, PricePoint{
			Price:      price,
			RecordedAt: s.now(),
		})
		return nil
	})
}

// mutateAsset runs a read-modify-write cycle with invariant enforcement and
// bounded CAS retries. A broken invariant halts the asset before the error
// is surfaced.
func (s *Service) mutateAsset(ctx context.Context, assetID string, mutate func(*TokenizedAsset) error) error {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		asset, err := s.repo.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if asset.Halted {
			return fmt.Errorf("asset %s: %w", assetID, ErrAssetHalted)
		}

		if err := mutate(asset); err != nil {
			return err
		}

		if err := asset.CheckInvariants(); err != nil {
			s.haltAsset(ctx, asset, err)
			return err
		}

		asset.UpdatedAt = s.now()
		err = s.repo.UpdateAsset(ctx, asset, asset.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("asset %s update exhausted %d attempts: %w", assetID, casRetries, lastErr)
}

// haltAsset blocks further writes to an asset whose invariants failed.
// This is an operator alert, not a user error.
func (s *Service) haltAsset(ctx context.Context, asset *TokenizedAsset, cause error) {
	s.logger.Error("ownership invariant violated, halting asset",
		zap.String("asset_id", asset.ID),
		zap.Error(cause))

	fresh, err := s.repo.GetAsset(ctx, asset.ID)
	if err != nil {
		s.logger.Error("failed to reload asset for halt", zap.String("asset_id", asset.ID), zap.Error(err))
		return
	}
	fresh.Halted = true
	if err := s.repo.UpdateAsset(ctx, fresh, fresh.Version); err != nil {
		s.logger.Error("failed to persist asset halt", zap.String("asset_id", asset.ID), zap.Error(err))
	}
}
