package model

import (
	"time"
)

// Audit action tags.
const (
	AuditActionCreditAdjustment = "credit_adjustment"
	AuditActionBypassPurchase   = "credit_bypass_purchase"
	AuditActionFeatureBypass    = "feature_bypass_grant"
	AuditActionPaymentSettled   = "payment_settled"
	AuditActionPaymentRefunded  = "payment_refunded"
)

// Audit target types.
const (
	AuditTargetCredit  = "credit"
	AuditTargetPayment = "payment"
)

// AdminAuditEntry is an append-only record of an administrative or system
// action that touched balances or settings. Writing it is best effort: a
// failed audit write must never unwind the business mutation it describes.
type AdminAuditEntry struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AdminID    string    `gorm:"type:varchar(64);index;not null" json:"admin_id"`
	Action     string    `gorm:"type:varchar(64);index;not null" json:"action"`
	TargetType string    `gorm:"type:varchar(32);not null" json:"target_type"`
	TargetID   string    `gorm:"type:varchar(128)" json:"target_id"`
	Metadata   string    `gorm:"type:text" json:"metadata"`
	IPAddress  string    `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent  string    `gorm:"type:varchar(256)" json:"user_agent"`
	OrgID      string    `gorm:"type:varchar(64);index" json:"org_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AdminAuditEntry) TableName() string {
	return "admin_audit"
}
