package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically persists expiry for listings whose deadline has
// passed without any read touching them, and re-releases escrow payouts
// that failed after a fill.
type Sweeper struct {
	service *Service
	cron    *cron.Cron
	logger  *zap.Logger
}

// NewSweeper creates a sweeper on the given cron schedule
// (e.g. "@every 5m").
func NewSweeper(service *Service, schedule string, logger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		service: service,
		cron:    cron.New(),
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the sweep schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("Listing expiry sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Listing expiry sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	swept, err := s.service.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("Listing expiry sweep failed", zap.Error(err))
		return
	}
	if swept > 0 {
		s.logger.Info("Expired listings swept", zap.Int("count", swept))
	}

	settled, err := s.service.RetrySettlements(ctx)
	if err != nil {
		s.logger.Error("Escrow settlement retry failed", zap.Error(err))
		return
	}
	if settled > 0 {
		s.logger.Info("Pending escrow payouts settled", zap.Int("count", settled))
	}
}
