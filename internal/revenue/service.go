package revenue

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Francklinok/easyrent-defi-core/internal/config"
	"github.com/Francklinok/easyrent-defi-core/internal/ledger"
	"github.com/Francklinok/easyrent-defi-core/internal/notifications"
	"github.com/Francklinok/easyrent-defi-core/pkg/ids"
)

const shareTolerance = 1e-6

// SnapshotSource provides the ownership snapshot a distribution splits
// over.
type SnapshotSource interface {
	GetDistribution(ctx context.Context, assetID string) (*ledger.DistributionSnapshot, error)
}

// Service splits asset revenue across owners by their ownership
// percentage, after the management fee and reserve are taken.
type Service struct {
	repo   Repository
	ledger SnapshotSource
	events notifications.Sink
	ids    ids.Generator
	cfg    config.RevenueConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a revenue distribution service
func NewService(repo Repository, snapshots SnapshotSource, events notifications.Sink, cfg config.RevenueConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: snapshots,
		events: events,
		ids:    ids.NewUUIDGenerator(),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Distribute splits one period's revenue across the asset's owners. The
// split comes from a single consistent ownership snapshot; any failure
// aborts with no history written.
func (s *Service) Distribute(ctx context.Context, req *DistributeRequest) (*Distribution, error) {
	if req.TotalRevenue <= 0 {
		return nil, fmt.Errorf("total revenue must be positive, got %f", req.TotalRevenue)
	}

	snapshot, err := s.ledger.GetDistribution(ctx, req.AssetID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot ownership: %w", err)
	}

	fee := req.TotalRevenue * s.cfg.ManagementFeeRate
	reserve := req.TotalRevenue * s.cfg.ReserveRate
	distributable := req.TotalRevenue - fee - reserve

	shares := make([]OwnerShare, 0, len(snapshot.Records))
	sum := 0.0
	for _, record := range snapshot.Records {
		amount := distributable * record.OwnershipPercentage / 100
		shares = append(shares, OwnerShare{
			OwnerID:    record.OwnerID,
			Percentage: record.OwnershipPercentage,
			Amount:     amount,
		})
		sum += amount
	}
	if math.Abs(sum-distributable) > shareTolerance {
		return nil, fmt.Errorf("sum %f against distributable %f: %w", sum, distributable, ErrShareSumMismatch)
	}

	distribution := &Distribution{
		ID:            s.ids.NewID().String(),
		AssetID:       req.AssetID,
		Period:        req.Period,
		TotalRevenue:  req.TotalRevenue,
		ManagementFee: fee,
		Reserve:       reserve,
		Distributable: distributable,
		Shares:        shares,
		DistributedAt: s.now(),
	}
	if err := s.repo.CreateDistribution(ctx, distribution); err != nil {
		return nil, err
	}

	s.logger.Info("Revenue distributed",
		zap.String("asset_id", req.AssetID),
		zap.String("period", req.Period),
		zap.Float64("total_revenue", req.TotalRevenue),
		zap.Float64("distributable", distributable),
		zap.Int("owners", len(shares)))

	s.events.Publish(ctx, notifications.Event{
		Type:       notifications.EventRevenueDistributed,
		AssetID:    req.AssetID,
		Amount:     distributable,
		Metadata:   map[string]interface{}{"period": req.Period, "owners": len(shares)},
		OccurredAt: distribution.DistributedAt,
	})
	return distribution, nil
}

// History returns past distributions for an asset, newest first.
func (s *Service) History(ctx context.Context, assetID string) ([]Distribution, error) {
	return s.repo.ListByAsset(ctx, assetID)
}
