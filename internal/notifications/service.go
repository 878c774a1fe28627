package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Francklinok/easyrent-defi-core/internal/notifications/websocket"
)

// Service is the notification sink: it persists every event to the outbox
// and pushes it to connected websocket clients. Producers never block on
// delivery; undelivered events are retried by RedeliverPending.
type Service struct {
	db        *gorm.DB
	wsManager *websocket.Manager
	logger    *zap.Logger
}

// NewService creates a notification service backed by the given database.
func NewService(db *gorm.DB, wsManager *websocket.Manager, logger *zap.Logger) (*Service, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Service{
		db:        db,
		wsManager: wsManager,
		logger:    logger,
	}, nil
}

// Publish stores the event and dispatches it asynchronously.
func (s *Service) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	record := &EventRecord{
		ID:      uuid.New(),
		Type:    event.Type,
		UserID:  event.UserID,
		Payload: datatypes.JSON(payload),
		Status:  StatusPending,
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.logger.Error("failed to store event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	go s.deliver(record, event)
}

// deliver pushes one event to the websocket layer and marks the outcome.
func (s *Service) deliver(record *EventRecord, event Event) {
	msg := websocket.Message{
		Type:      websocket.MessageTypeEvent,
		Data:      eventData(event),
		Timestamp: time.Now(),
		Channel:   "events",
	}

	var err error
	if event.UserID != "" {
		err = s.wsManager.SendToUser(event.UserID, msg)
	} else {
		err = s.wsManager.Broadcast(msg)
	}

	updates := map[string]interface{}{
		"attempts": gorm.Expr("attempts + 1"),
	}
	if err != nil {
		// Left pending for redelivery.
		s.logger.Warn("event delivery failed",
			zap.String("event_id", record.ID.String()),
			zap.String("type", event.Type),
			zap.Error(err))
	} else {
		now := time.Now()
		updates["status"] = StatusDelivered
		updates["delivered_at"] = &now
	}

	if dbErr := s.db.Model(&EventRecord{}).Where("id = ?", record.ID).Updates(updates).Error; dbErr != nil {
		s.logger.Error("failed to update event record", zap.String("event_id", record.ID.String()), zap.Error(dbErr))
	}
}

// RedeliverPending re-attempts delivery of stored events that never reached
// a client. Events past maxAttempts are marked failed.
func (s *Service) RedeliverPending(ctx context.Context, maxAttempts, limit int) error {
	var records []EventRecord
	if err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return fmt.Errorf("failed to load pending events: %w", err)
	}

	for i := range records {
		record := records[i]
		if record.Attempts >= maxAttempts {
			if err := s.db.Model(&EventRecord{}).Where("id = ?", record.ID).
				Update("status", StatusFailed).Error; err != nil {
				return fmt.Errorf("failed to mark event failed: %w", err)
			}
			continue
		}

		var event Event
		if err := json.Unmarshal(record.Payload, &event); err != nil {
			s.logger.Error("corrupt event payload", zap.String("event_id", record.ID.String()), zap.Error(err))
			continue
		}
		s.deliver(&record, event)
	}

	return nil
}

// EventHistory returns the most recent stored events for a user.
func (s *Service) EventHistory(ctx context.Context, userID string, limit int) ([]EventRecord, error) {
	var records []EventRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load event history: %w", err)
	}
	return records, nil
}

// Close shuts down the websocket layer.
func (s *Service) Close() error {
	if s.wsManager != nil {
		s.wsManager.Close()
	}
	return nil
}

func eventData(event Event) map[string]interface{} {
	data := map[string]interface{}{
		"type":        event.Type,
		"occurred_at": event.OccurredAt,
	}
	if event.AssetID != "" {
		data["asset_id"] = event.AssetID
	}
	if event.ListingID != "" {
		data["listing_id"] = event.ListingID
	}
	if event.BidID != "" {
		data["bid_id"] = event.BidID
	}
	if event.PoolID != "" {
		data["pool_id"] = event.PoolID
	}
	if event.PositionID != "" {
		data["position_id"] = event.PositionID
	}
	if event.Amount != 0 {
		data["amount"] = event.Amount
	}
	for k, v := range event.Metadata {
		data[k] = v
	}
	return data
}
