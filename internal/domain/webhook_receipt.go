package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookReceipt is the audit record of a verified inbound callback.
type WebhookReceipt struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Provider   string         `gorm:"column:provider;index;not null" json:"provider"`
	EventKey   string         `gorm:"column:event_key;index" json:"event_key"`
	EventType  string         `gorm:"column:event_type" json:"event_type"`
	Payload    datatypes.JSON `gorm:"column:payload" json:"payload"`
	Outcome    string         `gorm:"column:outcome" json:"outcome"`
	ReceivedAt time.Time      `gorm:"column:received_at;not null" json:"received_at"`
}

func (WebhookReceipt) TableName() string {
	return "webhook_receipts"
}

func (w *WebhookReceipt) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.ReceivedAt.IsZero() {
		w.ReceivedAt = time.Now().UTC()
	}
	return nil
}
