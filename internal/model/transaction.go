package model

import (
	"time"
)

// Transaction types. Usage debits are the only type rejected on overdraft;
// administrative types (bonus, adjustment, refund) clamp at zero instead.
const (
	TransactionTypePurchase   = "purchase"   // provider-settled purchase
	TransactionTypeBonus      = "bonus"      // administrative bypass grant or promotional credit
	TransactionTypeUsage      = "usage"      // credit spend (card generation etc.)
	TransactionTypeRefund     = "refund"     // reversal of a paid purchase
	TransactionTypeAdjustment = "adjustment" // raw administrative delta
)

// CreditTransaction is one entry of the append-only credit ledger.
//
// Ledger rules:
//  1. Rows are only inserted, never updated or deleted.
//  2. BalanceAfter - BalanceBefore must equal Amount; the ledger service
//     checks this before every insert.
//  3. ReferenceID links back to the payment or bypass reference that caused
//     the change, so any balance can be rebuilt from the log alone.
type CreditTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        string    `gorm:"type:varchar(64);index:idx_txn_user_org;not null" json:"user_id"`
	OrgID         string    `gorm:"type:varchar(64);index:idx_txn_user_org;not null" json:"org_id"`
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"` // positive credit, negative debit
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	ReferenceID   string    `gorm:"type:varchar(128);index" json:"reference_id"`
	Metadata      string    `gorm:"type:text" json:"metadata"` // JSON, see metadata.go
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
