package notifications

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Delivery statuses for stored events.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// EventRecord is the persisted outbox entry for a domain event. Events are
// stored before any delivery attempt so a crash between commit and push
// results in redelivery, not loss.
type EventRecord struct {
	ID          uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	Type        string         `json:"type" gorm:"not null;index"`
	UserID      string         `json:"user_id" gorm:"index"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Status      string         `json:"status" gorm:"not null;index;default:pending"`
	Attempts    int            `json:"attempts" gorm:"default:0"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	DeliveredAt *time.Time     `json:"delivered_at"`
}
