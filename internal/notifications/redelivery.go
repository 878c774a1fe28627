package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	redeliverMaxAttempts = 5
	redeliverBatch       = 100
)

// RedeliveryWorker periodically re-attempts delivery of pending events
// that never reached a websocket client.
type RedeliveryWorker struct {
	service *Service
	cron    *cron.Cron
	logger  *zap.Logger
}

// NewRedeliveryWorker creates a worker on the given cron schedule
// (e.g. "@every 1m").
func NewRedeliveryWorker(service *Service, schedule string, logger *zap.Logger) (*RedeliveryWorker, error) {
	w := &RedeliveryWorker{
		service: service,
		cron:    cron.New(),
		logger:  logger,
	}

	if _, err := w.cron.AddFunc(schedule, w.run); err != nil {
		return nil, fmt.Errorf("invalid redelivery schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Start begins the redelivery schedule.
func (w *RedeliveryWorker) Start() {
	w.cron.Start()
	w.logger.Info("Event redelivery worker started")
}

// Stop halts the schedule and waits for a running pass to finish.
func (w *RedeliveryWorker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info("Event redelivery worker stopped")
}

func (w *RedeliveryWorker) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := w.service.RedeliverPending(ctx, redeliverMaxAttempts, redeliverBatch); err != nil {
		w.logger.Error("Event redelivery failed", zap.Error(err))
	}
}
