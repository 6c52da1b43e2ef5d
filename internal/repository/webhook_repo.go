package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

// ErrDuplicateEvent means the provider event was already processed; the
// settlement engine treats it as idempotent success.
var ErrDuplicateEvent = errors.New("webhook event already processed")

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Mark inserts the processed-event marker. It must be called inside the
// settlement transaction: the unique index on event_id then closes the race
// between two concurrent deliveries of the same event, because only one of
// the two inserts can commit.
func (r *WebhookRepository) Mark(ctx context.Context, tx *gorm.DB, event *model.WebhookEvent) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(event).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEvent
	}
	return err
}
