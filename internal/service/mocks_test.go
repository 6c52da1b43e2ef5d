package service

import (
	"context"
	"fmt"
	"sync"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// In-memory store fakes. The fake TxManager serializes transactions with a
// mutex, which stands in for the row lock the real stores take; writes are
// not rolled back on error, so tests that exercise rollback semantics assert
// on returned errors rather than on store state.

type fakeTxManager struct {
	mu sync.Mutex
}

func (m *fakeTxManager) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(nil)
}

type fakeAccountStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[string]*model.Account // key org|user
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: map[string]*model.Account{}}
}

func accountKey(userID, orgID string) string {
	return orgID + "|" + userID
}

func (s *fakeAccountStore) Get(ctx context.Context, userID, orgID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountKey(userID, orgID)]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeAccountStore) GetOrCreate(ctx context.Context, userID, orgID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountKey(userID, orgID)
	if a, ok := s.accounts[key]; ok {
		cp := *a
		return &cp, nil
	}
	s.nextID++
	a := &model.Account{ID: s.nextID, UserID: userID, OrgID: orgID}
	s.accounts[key] = a
	cp := *a
	return &cp, nil
}

func (s *fakeAccountStore) GetForUpdate(ctx context.Context, tx *gorm.DB, userID, orgID string) (*model.Account, error) {
	return s.Get(ctx, userID, orgID)
}

func (s *fakeAccountStore) byID(id int64) *model.Account {
	for _, a := range s.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (s *fakeAccountStore) UpdateBalance(ctx context.Context, tx *gorm.DB, accountID int64, newBalance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byID(accountID)
	if a == nil {
		return repository.ErrAccountNotFound
	}
	a.Balance = newBalance
	a.Version++
	return nil
}

func (s *fakeAccountStore) EnableFeatures(ctx context.Context, tx *gorm.DB, accountID int64, flags model.FeatureFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byID(accountID)
	if a == nil {
		return repository.ErrAccountNotFound
	}
	if flags.UnlimitedTemplates {
		a.UnlimitedTemplates = true
	}
	if flags.RemoveWatermarks {
		a.RemoveWatermarks = true
	}
	if flags.APIAccess {
		a.APIAccess = true
	}
	if flags.BulkProcessing {
		a.BulkProcessing = true
	}
	return nil
}

func (s *fakeAccountStore) IncrementGenerationCount(ctx context.Context, tx *gorm.DB, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byID(accountID)
	if a == nil {
		return repository.ErrAccountNotFound
	}
	a.CardGenerationCount++
	return nil
}

type fakeTransactionStore struct {
	mu      sync.Mutex
	entries []*model.CreditTransaction
}

func (s *fakeTransactionStore) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *trans
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *fakeTransactionStore) ListByAccount(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CreditTransaction
	for _, t := range s.entries {
		if t.UserID == userID && t.OrgID == orgID {
			out = append(out, t)
		}
	}
	return out, int64(len(out)), nil
}

func (s *fakeTransactionStore) SumByAccount(ctx context.Context, userID, orgID string) (int64, error) {
	return s.sum(userID, orgID), nil
}

func (s *fakeTransactionStore) sum(userID, orgID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, t := range s.entries {
		if t.UserID == userID && t.OrgID == orgID {
			total += t.Amount
		}
	}
	return total
}

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[string]*model.PaymentRecord // by payment no
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: map[string]*model.PaymentRecord{}}
}

func (s *fakePaymentStore) Create(ctx context.Context, tx *gorm.DB, payment *model.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.IdempotencyKey == payment.IdempotencyKey {
			return repository.ErrDuplicateIdemKey
		}
	}
	cp := *payment
	s.payments[payment.PaymentNo] = &cp
	return nil
}

func (s *fakePaymentStore) GetByPaymentNo(ctx context.Context, paymentNo string) (*model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentNo]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakePaymentStore) GetByIdempotencyKey(ctx context.Context, key string) (*model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.IdempotencyKey == key {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakePaymentStore) GetByProviderPaymentID(ctx context.Context, tx *gorm.DB, providerPaymentID string) (*model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ProviderPaymentID != nil && *p.ProviderPaymentID == providerPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (s *fakePaymentStore) Transition(ctx context.Context, tx *gorm.DB, paymentNo, fromStatus, toStatus string, upd repository.TransitionUpdates) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return repository.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentNo]
	if !ok || p.Status != fromStatus {
		return repository.ErrInvalidTransition
	}
	p.Status = toStatus
	if upd.Method != nil {
		p.Method = upd.Method
	}
	if upd.Reason != nil {
		p.Reason = upd.Reason
	}
	if upd.RawEvent != "" {
		p.RawEvent = upd.RawEvent
	}
	if upd.PaidAt != nil {
		p.PaidAt = upd.PaidAt
	}
	return nil
}

func (s *fakePaymentStore) SetProviderPaymentID(ctx context.Context, paymentNo, providerPaymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentNo]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	p.ProviderPaymentID = &providerPaymentID
	return nil
}

func (s *fakePaymentStore) ListByAccount(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.PaymentRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range s.payments {
		if p.UserID == userID && p.OrgID == orgID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

type fakeWebhookStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeWebhookStore() *fakeWebhookStore {
	return &fakeWebhookStore{seen: map[string]bool{}}
}

func (s *fakeWebhookStore) Mark(ctx context.Context, tx *gorm.DB, event *model.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[event.EventID] {
		return repository.ErrDuplicateEvent
	}
	s.seen[event.EventID] = true
	return nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*model.AdminAuditEntry
	failing bool
}

func (s *fakeAuditStore) Create(ctx context.Context, entry *model.AdminAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("audit store unavailable")
	}
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

type fakeOutboxStore struct {
	mu       sync.Mutex
	messages []*model.OutboxMessage
}

func (s *fakeOutboxStore) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages = append(s.messages, &cp)
	return nil
}

// fakeLocker serializes callers with a single mutex.
type fakeLocker struct {
	mu sync.Mutex
}

func (l *fakeLocker) WithAccountLock(ctx context.Context, userID, orgID, token string, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Business.PaymentExpiryMinutes = 30
	cfg.Business.MaxRetryCount = 3
	cfg.Business.FreeGenerationAllowance = 10
	cfg.Kafka.Topic.SettlementResult = "credit.settlement.result"
	return cfg
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
