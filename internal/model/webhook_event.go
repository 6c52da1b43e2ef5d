package model

import (
	"time"
)

// WebhookEvent marks a provider event as processed. The unique index on
// EventID is the idempotency guard for settlement: the marker is inserted
// inside the settlement transaction, so two concurrent deliveries of the
// same event cannot both apply.
type WebhookEvent struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID     string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"event_id"`
	EventType   string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Provider    string    `gorm:"type:varchar(32);not null" json:"provider"`
	RawPayload  string    `gorm:"type:text" json:"raw_payload"`
	ProcessedAt time.Time `gorm:"autoCreateTime" json:"processed_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
