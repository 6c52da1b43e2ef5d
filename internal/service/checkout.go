package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creditledger/internal/catalog"
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/idgen"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutService creates pending payment records. A retried request with
// the same idempotency key gets the existing record back instead of a
// duplicate; that is success from the caller's point of view, not an error.
type CheckoutService struct {
	payments PaymentStore
	accounts AccountStore
	locker   lock.AccountLocker
	cfg      *config.Config
	logger   *zap.SugaredLogger
}

func NewCheckoutService(payments PaymentStore, accounts AccountStore, locker lock.AccountLocker, cfg *config.Config, logger *zap.SugaredLogger) *CheckoutService {
	return &CheckoutService{
		payments: payments,
		accounts: accounts,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
	}
}

type CheckoutParams struct {
	UserID         string
	OrgID          string
	Kind           string // credit | feature
	SkuID          string
	IdempotencyKey string   // generated when empty; returned on the record
	MethodAllowed  []string // e.g. gcash, paymaya, card, online_banking
}

// Init resolves the SKU against the catalog and creates the pending record
// with the canonical amount. The client's view of the price never enters.
func (s *CheckoutService) Init(ctx context.Context, p CheckoutParams) (*model.PaymentRecord, error) {
	amount, description, err := resolveSku(p.Kind, p.SkuID)
	if err != nil {
		return nil, err
	}

	if p.IdempotencyKey == "" {
		p.IdempotencyKey = uuid.NewString()
	}

	// Fast path: a retry of a key we have already seen.
	existing, err := s.payments.GetByIdempotencyKey(ctx, p.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	// The account row is created eagerly so settlement never has to race
	// account creation.
	if _, err := s.accounts.GetOrCreate(ctx, p.UserID, p.OrgID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	methodAllowed, err := json.Marshal(p.MethodAllowed)
	if err != nil {
		return nil, fmt.Errorf("marshal method_allowed: %w", err)
	}

	var record *model.PaymentRecord
	lockToken := uuid.NewString()
	err = s.locker.WithAccountLock(ctx, p.UserID, p.OrgID, lockToken, func() error {
		// Re-check under the lock before creating.
		existing, err := s.payments.GetByIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if existing != nil {
			record = existing
			return nil
		}

		record = &model.PaymentRecord{
			PaymentNo:      idgen.GeneratePaymentNo(),
			UserID:         p.UserID,
			OrgID:          p.OrgID,
			Provider:       model.ProviderPayMongo,
			Kind:           p.Kind,
			SkuID:          p.SkuID,
			AmountPhp:      amount,
			Currency:       "PHP",
			Status:         model.PaymentStatusPending,
			MethodAllowed:  string(methodAllowed),
			IdempotencyKey: p.IdempotencyKey,
			ExpiresAt:      nowFunc().Add(time.Duration(s.cfg.Business.PaymentExpiryMinutes) * time.Minute),
		}
		if err := s.payments.Create(ctx, nil, record); err != nil {
			// The unique index caught a concurrent create with the same key;
			// return that record, this is idempotent success.
			if errors.Is(err, repository.ErrDuplicateIdemKey) {
				record, err = s.payments.GetByIdempotencyKey(ctx, p.IdempotencyKey)
				if err != nil {
					return fmt.Errorf("fetch existing payment: %w", err)
				}
				if record == nil {
					return fmt.Errorf("duplicate idempotency key but record not found")
				}
				return nil
			}
			return fmt.Errorf("create payment record: %w", err)
		}

		s.logger.Infow("checkout initialized",
			"payment_no", record.PaymentNo,
			"user_id", p.UserID,
			"org_id", p.OrgID,
			"kind", p.Kind,
			"sku_id", p.SkuID,
			"amount_php", amount,
			"description", description,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// AttachProviderPayment links the provider's payment identifier to the
// record once the provider has acknowledged the checkout. Settlement matches
// webhook events on this id, so an unattached payment can never settle.
func (s *CheckoutService) AttachProviderPayment(ctx context.Context, userID, orgID, paymentNo, providerPaymentID string) error {
	payment, err := s.payments.GetByPaymentNo(ctx, paymentNo)
	if err != nil {
		return err
	}
	// Ownership check: callers can only attach to their own payments.
	if payment.UserID != userID || payment.OrgID != orgID {
		return repository.ErrPaymentNotFound
	}
	if payment.Status != model.PaymentStatusPending {
		return repository.ErrInvalidTransition
	}
	if payment.ProviderPaymentID != nil && *payment.ProviderPaymentID == providerPaymentID {
		// Idempotent retry of the same attach.
		return nil
	}
	if err := s.payments.SetProviderPaymentID(ctx, paymentNo, providerPaymentID); err != nil {
		return err
	}
	s.logger.Infow("provider payment attached",
		"payment_no", paymentNo,
		"provider_payment_id", providerPaymentID,
		"user_id", userID,
		"org_id", orgID,
	)
	return nil
}

// ListPayments returns the caller's purchase history, newest first.
func (s *CheckoutService) ListPayments(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.PaymentRecord, int64, error) {
	return s.payments.ListByAccount(ctx, userID, orgID, page, pageSize)
}

// resolveSku maps a purchase kind and SKU id to the canonical amount.
func resolveSku(kind, skuID string) (amountPhp int64, description string, err error) {
	switch kind {
	case model.PurchaseKindCredit:
		pkg, err := catalog.ResolvePackage(skuID)
		if err != nil {
			return 0, "", err
		}
		return pkg.AmountPhp, pkg.Name, nil
	case model.PurchaseKindFeature:
		sku, err := catalog.ResolveFeature(skuID)
		if err != nil {
			return 0, "", err
		}
		return sku.AmountPhp, sku.Name, nil
	default:
		return 0, "", fmt.Errorf("unknown purchase kind %q", kind)
	}
}
