package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound    = errors.New("payment record not found")
	ErrInvalidTransition  = errors.New("invalid payment status transition")
	ErrDuplicateIdemKey   = errors.New("duplicate idempotency key")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a new payment record; the unique index on idempotency_key
// turns a racing duplicate checkout into ErrDuplicateIdemKey.
func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.PaymentRecord) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(payment).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateIdemKey
	}
	return err
}

func (r *PaymentRepository) GetByPaymentNo(ctx context.Context, paymentNo string) (*model.PaymentRecord, error) {
	var payment model.PaymentRecord
	err := r.db.WithContext(ctx).Where("payment_no = ?", paymentNo).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByIdempotencyKey returns (nil, nil) when no record exists.
func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.PaymentRecord, error) {
	var payment model.PaymentRecord
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByProviderPaymentID(ctx context.Context, tx *gorm.DB, providerPaymentID string) (*model.PaymentRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var payment model.PaymentRecord
	err := tx.WithContext(ctx).Where("provider_payment_id = ?", providerPaymentID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// TransitionUpdates carries the columns written together with a status
// transition.
type TransitionUpdates struct {
	Method   *string
	Reason   *string
	RawEvent string
	PaidAt   *time.Time
}

// Transition moves a payment between statuses with a conditional update.
// The WHERE on the current status makes the state machine race-proof: a
// concurrent transition already applied leaves zero rows affected.
func (r *PaymentRepository) Transition(ctx context.Context, tx *gorm.DB, paymentNo, fromStatus, toStatus string, upd TransitionUpdates) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrInvalidTransition
	}
	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if upd.Method != nil {
		updates["method"] = upd.Method
	}
	if upd.Reason != nil {
		updates["reason"] = upd.Reason
	}
	if upd.RawEvent != "" {
		updates["raw_event"] = upd.RawEvent
	}
	if upd.PaidAt != nil {
		updates["paid_at"] = upd.PaidAt
	}

	result := tx.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("payment_no = ? AND status = ?", paymentNo, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SetProviderPaymentID links the provider's payment identifier once the
// provider responds to checkout creation.
func (r *PaymentRepository) SetProviderPaymentID(ctx context.Context, paymentNo, providerPaymentID string) error {
	result := r.db.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("payment_no = ?", paymentNo).
		Update("provider_payment_id", providerPaymentID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) GetExpiredPending(ctx context.Context, limit int) ([]*model.PaymentRecord, error) {
	var payments []*model.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.PaymentStatusPending, time.Now()).
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListByAccount(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.PaymentRecord, int64, error) {
	var payments []*model.PaymentRecord
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("user_id = ? AND org_id = ?", userID, orgID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}
