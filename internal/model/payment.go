package model

import (
	"time"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusExpired  = "expired"
	PaymentStatusRefunded = "refunded"
)

const (
	PurchaseKindCredit  = "credit"
	PurchaseKindFeature = "feature"
)

const ProviderPayMongo = "paymongo"

// ValidStatusTransitions encodes the payment lifecycle. pending is the only
// non-terminal entry state; paid can still move to refunded via an explicit
// administrative refund. Everything else is terminal.
var ValidStatusTransitions = map[string][]string{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusExpired},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// PaymentRecord tracks one purchase attempt from checkout through
// settlement. AmountPhp is always resolved from the catalog on the server;
// client-supplied amounts are never stored. The settlement engine owns all
// status transitions after creation.
type PaymentRecord struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentNo         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"`
	UserID            string     `gorm:"type:varchar(64);index:idx_payment_user_org;not null" json:"user_id"`
	OrgID             string     `gorm:"type:varchar(64);index:idx_payment_user_org;not null" json:"org_id"`
	ProviderPaymentID *string    `gorm:"type:varchar(128);uniqueIndex" json:"provider_payment_id"` // nil until the provider responds
	Provider          string     `gorm:"type:varchar(32);not null" json:"provider"`
	Kind              string     `gorm:"type:varchar(16);not null" json:"kind"` // credit | feature
	SkuID             string     `gorm:"type:varchar(64);not null" json:"sku_id"`
	AmountPhp         int64      `gorm:"not null" json:"amount_php"`
	Currency          string     `gorm:"type:varchar(8);not null;default:PHP" json:"currency"`
	Status            string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Method            *string    `gorm:"type:varchar(32)" json:"method"`
	MethodAllowed     string     `gorm:"type:varchar(256)" json:"method_allowed"` // JSON array
	IdempotencyKey    string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"idempotency_key"`
	Reason            *string    `gorm:"type:varchar(256)" json:"reason"` // failure/refund reason
	Metadata          string     `gorm:"type:text" json:"metadata"`
	RawEvent          string     `gorm:"type:text" json:"-"` // provider event snapshot, set at settlement
	ExpiresAt         time.Time  `gorm:"not null" json:"expires_at"`
	PaidAt            *time.Time `json:"paid_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentRecord) TableName() string {
	return "payment_records"
}
