package service

import (
	"context"
	"time"

	"creditledger/internal/model"
	"creditledger/internal/repository"

	"gorm.io/gorm"
)

// Services depend on these narrow store interfaces rather than the concrete
// repositories so the settlement and ledger logic can be exercised against
// in-memory fakes. The *gorm.DB transaction handle is threaded through
// explicitly; fakes ignore it.

// TxManager runs a function inside one storage transaction.
type TxManager interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTxManager struct {
	db *gorm.DB
}

// NewTxManager wraps a gorm DB as a TxManager.
func NewTxManager(db *gorm.DB) TxManager {
	return &gormTxManager{db: db}
}

func (m *gormTxManager) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.db.WithContext(ctx).Transaction(fn)
}

type AccountStore interface {
	Get(ctx context.Context, userID, orgID string) (*model.Account, error)
	GetOrCreate(ctx context.Context, userID, orgID string) (*model.Account, error)
	GetForUpdate(ctx context.Context, tx *gorm.DB, userID, orgID string) (*model.Account, error)
	UpdateBalance(ctx context.Context, tx *gorm.DB, accountID int64, newBalance int64) error
	EnableFeatures(ctx context.Context, tx *gorm.DB, accountID int64, flags model.FeatureFlags) error
	IncrementGenerationCount(ctx context.Context, tx *gorm.DB, accountID int64) error
}

type TransactionStore interface {
	Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error
	ListByAccount(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.CreditTransaction, int64, error)
	SumByAccount(ctx context.Context, userID, orgID string) (int64, error)
}

type PaymentStore interface {
	Create(ctx context.Context, tx *gorm.DB, payment *model.PaymentRecord) error
	GetByPaymentNo(ctx context.Context, paymentNo string) (*model.PaymentRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*model.PaymentRecord, error)
	GetByProviderPaymentID(ctx context.Context, tx *gorm.DB, providerPaymentID string) (*model.PaymentRecord, error)
	Transition(ctx context.Context, tx *gorm.DB, paymentNo, fromStatus, toStatus string, upd repository.TransitionUpdates) error
	SetProviderPaymentID(ctx context.Context, paymentNo, providerPaymentID string) error
	ListByAccount(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.PaymentRecord, int64, error)
}

type WebhookStore interface {
	Mark(ctx context.Context, tx *gorm.DB, event *model.WebhookEvent) error
}

type AuditStore interface {
	Create(ctx context.Context, entry *model.AdminAuditEntry) error
}

type OutboxStore interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

// nowFunc is stubbed in tests that pin timestamps.
var nowFunc = time.Now
