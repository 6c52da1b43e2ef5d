package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Minimal in-memory stores, just enough to drive one payment through the
// webhook endpoint.

type memTxManager struct{}

func (memTxManager) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type memAccountStore struct {
	account model.Account
}

func (s *memAccountStore) Get(ctx context.Context, userID, orgID string) (*model.Account, error) {
	cp := s.account
	return &cp, nil
}

func (s *memAccountStore) GetOrCreate(ctx context.Context, userID, orgID string) (*model.Account, error) {
	return s.Get(ctx, userID, orgID)
}

func (s *memAccountStore) GetForUpdate(ctx context.Context, tx *gorm.DB, userID, orgID string) (*model.Account, error) {
	return s.Get(ctx, userID, orgID)
}

func (s *memAccountStore) UpdateBalance(ctx context.Context, tx *gorm.DB, accountID int64, newBalance int64) error {
	s.account.Balance = newBalance
	return nil
}

func (s *memAccountStore) EnableFeatures(ctx context.Context, tx *gorm.DB, accountID int64, flags model.FeatureFlags) error {
	return nil
}

func (s *memAccountStore) IncrementGenerationCount(ctx context.Context, tx *gorm.DB, accountID int64) error {
	return nil
}

type memTransactionStore struct {
	entries []*model.CreditTransaction
}

func (s *memTransactionStore) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	s.entries = append(s.entries, trans)
	return nil
}

func (s *memTransactionStore) ListByAccount(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	return s.entries, int64(len(s.entries)), nil
}

func (s *memTransactionStore) SumByAccount(ctx context.Context, userID, orgID string) (int64, error) {
	var total int64
	for _, t := range s.entries {
		total += t.Amount
	}
	return total, nil
}

type memPaymentStore struct {
	payment *model.PaymentRecord
}

func (s *memPaymentStore) Create(ctx context.Context, tx *gorm.DB, payment *model.PaymentRecord) error {
	return nil
}

func (s *memPaymentStore) GetByPaymentNo(ctx context.Context, paymentNo string) (*model.PaymentRecord, error) {
	if s.payment == nil || s.payment.PaymentNo != paymentNo {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *s.payment
	return &cp, nil
}

func (s *memPaymentStore) GetByIdempotencyKey(ctx context.Context, key string) (*model.PaymentRecord, error) {
	return nil, nil
}

func (s *memPaymentStore) GetByProviderPaymentID(ctx context.Context, tx *gorm.DB, providerPaymentID string) (*model.PaymentRecord, error) {
	if s.payment == nil || s.payment.ProviderPaymentID == nil || *s.payment.ProviderPaymentID != providerPaymentID {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *s.payment
	return &cp, nil
}

func (s *memPaymentStore) Transition(ctx context.Context, tx *gorm.DB, paymentNo, fromStatus, toStatus string, upd repository.TransitionUpdates) error {
	if s.payment == nil || s.payment.Status != fromStatus || !model.CanTransitionTo(fromStatus, toStatus) {
		return repository.ErrInvalidTransition
	}
	s.payment.Status = toStatus
	return nil
}

func (s *memPaymentStore) SetProviderPaymentID(ctx context.Context, paymentNo, providerPaymentID string) error {
	if s.payment == nil || s.payment.PaymentNo != paymentNo {
		return repository.ErrPaymentNotFound
	}
	s.payment.ProviderPaymentID = &providerPaymentID
	return nil
}

func (s *memPaymentStore) ListByAccount(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.PaymentRecord, int64, error) {
	return nil, 0, nil
}

type memWebhookStore struct {
	seen map[string]bool
}

func (s *memWebhookStore) Mark(ctx context.Context, tx *gorm.DB, event *model.WebhookEvent) error {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[event.EventID] {
		return repository.ErrDuplicateEvent
	}
	s.seen[event.EventID] = true
	return nil
}

type memAuditStore struct{}

func (memAuditStore) Create(ctx context.Context, entry *model.AdminAuditEntry) error { return nil }

type memOutboxStore struct {
	messages []*model.OutboxMessage
}

func (s *memOutboxStore) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	s.messages = append(s.messages, msg)
	return nil
}

type memLocker struct{}

func (memLocker) WithAccountLock(ctx context.Context, userID, orgID, token string, fn func() error) error {
	return fn()
}

func newWebhookTestRouter(t *testing.T, payments *memPaymentStore) (*gin.Engine, *memAccountStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop().Sugar()
	accounts := &memAccountStore{account: model.Account{ID: 1, UserID: "u1", OrgID: "org1"}}
	ledger := service.NewLedgerService(accounts, &memTransactionStore{}, logger)
	audit := service.NewAuditService(memAuditStore{}, logger)

	cfg := testWebhookConfig()
	settlement := service.NewSettlementService(memTxManager{}, payments, &memWebhookStore{}, &memOutboxStore{}, ledger, audit, cfg, logger)
	checkout := service.NewCheckoutService(payments, accounts, memLocker{}, cfg, logger)

	h := &Handler{settlement: settlement, checkout: checkout, logger: logger}
	r := gin.New()
	r.POST("/api/v1/webhooks/payment", h.HandleWebhook)

	authed := r.Group("/api/v1", IdentityMiddleware())
	authed.POST("/payments/:payment_no/provider", h.AttachProvider)
	return r, accounts
}

func testWebhookConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.SettlementResult = "credit.settlement.result"
	return cfg
}

func postWebhook(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func paidWebhookBody(eventID, providerPaymentID string) string {
	return `{"data":{"id":"` + eventID + `","attributes":{"type":"payment.paid","data":{"id":"` + providerPaymentID + `","attributes":{"source":{"type":"gcash"}}}}}}`
}

func TestWebhookMalformedPayload(t *testing.T) {
	r, _ := newWebhookTestRouter(t, &memPaymentStore{})

	w := postWebhook(r, "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postWebhook(r, `{"data":{"id":"","attributes":{"type":""}}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postWebhook(r, `{"data":{"id":"evt_1","attributes":{"type":"payment.paid","data":{"id":""}}}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookAppliesPaidEvent(t *testing.T) {
	providerID := "pay_abc"
	payments := &memPaymentStore{payment: &model.PaymentRecord{
		PaymentNo:         "PAY1",
		UserID:            "u1",
		OrgID:             "org1",
		ProviderPaymentID: &providerID,
		Kind:              model.PurchaseKindCredit,
		SkuID:             "credits_100",
		Status:            model.PaymentStatusPending,
	}}
	r, accounts := newWebhookTestRouter(t, payments)

	w := postWebhook(r, paidWebhookBody("evt_1", "pay_abc"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "applied")
	assert.Equal(t, model.PaymentStatusPaid, payments.payment.Status)
	assert.Equal(t, int64(100), accounts.account.Balance)
}

func TestWebhookDuplicateEventAcknowledged(t *testing.T) {
	providerID := "pay_abc"
	payments := &memPaymentStore{payment: &model.PaymentRecord{
		PaymentNo:         "PAY1",
		UserID:            "u1",
		OrgID:             "org1",
		ProviderPaymentID: &providerID,
		Kind:              model.PurchaseKindCredit,
		SkuID:             "credits_100",
		Status:            model.PaymentStatusPending,
	}}
	r, accounts := newWebhookTestRouter(t, payments)

	w := postWebhook(r, paidWebhookBody("evt_1", "pay_abc"))
	require.Equal(t, http.StatusOK, w.Code)

	w = postWebhook(r, paidWebhookBody("evt_1", "pay_abc"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "already_processed")
	assert.Equal(t, int64(100), accounts.account.Balance)
}

func TestWebhookUnknownPaymentAcknowledged(t *testing.T) {
	r, _ := newWebhookTestRouter(t, &memPaymentStore{})

	w := postWebhook(r, paidWebhookBody("evt_1", "pay_missing"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_payment")
}

func TestAttachProviderThenSettle(t *testing.T) {
	// The full client flow: checkout produced a pending record with no
	// provider id yet, the client attaches the provider's payment id, then
	// the provider webhook settles it.
	payments := &memPaymentStore{payment: &model.PaymentRecord{
		PaymentNo: "PAY1",
		UserID:    "u1",
		OrgID:     "org1",
		Kind:      model.PurchaseKindCredit,
		SkuID:     "credits_100",
		Status:    model.PaymentStatusPending,
	}}
	r, accounts := newWebhookTestRouter(t, payments)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/PAY1/provider",
		strings.NewReader(`{"provider_payment_id":"pay_abc"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-Org-ID", "org1")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, payments.payment.ProviderPaymentID)

	w = postWebhook(r, paidWebhookBody("evt_1", "pay_abc"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "applied")
	assert.Equal(t, model.PaymentStatusPaid, payments.payment.Status)
	assert.Equal(t, int64(100), accounts.account.Balance)
}

func TestAttachProviderRejectsForeignPayment(t *testing.T) {
	payments := &memPaymentStore{payment: &model.PaymentRecord{
		PaymentNo: "PAY1",
		UserID:    "u1",
		OrgID:     "org1",
		Kind:      model.PurchaseKindCredit,
		SkuID:     "credits_100",
		Status:    model.PaymentStatusPending,
	}}
	r, _ := newWebhookTestRouter(t, payments)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/PAY1/provider",
		strings.NewReader(`{"provider_payment_id":"pay_abc"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u2")
	req.Header.Set("X-Org-ID", "org1")
	r.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), "payment not found")
	assert.Nil(t, payments.payment.ProviderPaymentID)
}

func TestWebhookNonPendingPaymentAcknowledged(t *testing.T) {
	providerID := "pay_abc"
	payments := &memPaymentStore{payment: &model.PaymentRecord{
		PaymentNo:         "PAY1",
		UserID:            "u1",
		OrgID:             "org1",
		ProviderPaymentID: &providerID,
		Kind:              model.PurchaseKindCredit,
		SkuID:             "credits_100",
		Status:            model.PaymentStatusPaid,
	}}
	r, _ := newWebhookTestRouter(t, payments)

	w := postWebhook(r, paidWebhookBody("evt_9", "pay_abc"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}
