package service

import (
	"context"
	"encoding/json"
	"fmt"

	"creditledger/internal/catalog"
	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RefundService reverses paid purchases. A credit refund claws the package's
// credits back, clamping at zero if they were already spent; a feature
// refund records the reversal in the ledger but does not revoke flags the
// user may have built work on.
type RefundService struct {
	txm      TxManager
	payments PaymentStore
	outbox   OutboxStore
	ledger   *LedgerService
	audit    *AuditService
	cfg      *config.Config
	logger   *zap.SugaredLogger
}

func NewRefundService(
	txm TxManager,
	payments PaymentStore,
	outbox OutboxStore,
	ledger *LedgerService,
	audit *AuditService,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *RefundService {
	return &RefundService{
		txm:      txm,
		payments: payments,
		outbox:   outbox,
		ledger:   ledger,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
	}
}

type RefundParams struct {
	AdminID   string
	PaymentNo string
	Reason    string
	Meta      RequestMeta
}

// Refund moves a paid payment to refunded and reverses its ledger effect.
func (s *RefundService) Refund(ctx context.Context, p RefundParams) (*ApplyResult, error) {
	payment, err := s.payments.GetByPaymentNo(ctx, p.PaymentNo)
	if err != nil {
		return nil, err
	}

	var clawback int64
	if payment.Kind == model.PurchaseKindCredit {
		pkg, err := catalog.ResolvePackage(payment.SkuID)
		if err != nil {
			return nil, fmt.Errorf("resolve refunded sku %s: %w", payment.SkuID, err)
		}
		clawback = pkg.Credits
	}

	reason := p.Reason
	if reason == "" {
		reason = "administrative refund"
	}

	var result *ApplyResult
	err = s.txm.InTx(ctx, func(tx *gorm.DB) error {
		// The conditional transition is the guard: a payment that is not
		// currently paid cannot be refunded, and a racing second refund
		// loses here and rolls back.
		err := s.payments.Transition(ctx, tx, payment.PaymentNo,
			model.PaymentStatusPaid, model.PaymentStatusRefunded,
			repository.TransitionUpdates{Reason: &reason})
		if err != nil {
			return err
		}

		result, err = s.ledger.Apply(ctx, tx, ApplyParams{
			UserID:      payment.UserID,
			OrgID:       payment.OrgID,
			Delta:       -clawback,
			Type:        model.TransactionTypeRefund,
			Description: fmt.Sprintf("Refund of %s", payment.PaymentNo),
			ReferenceID: payment.PaymentNo,
			Metadata: model.RefundMetadata{
				PaymentNo: payment.PaymentNo,
				Reason:    reason,
				AdminID:   p.AdminID,
			},
			ClampAtZero: true,
		})
		if err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]interface{}{
			"payment_no": payment.PaymentNo,
			"user_id":    payment.UserID,
			"org_id":     payment.OrgID,
			"status":     model.PaymentStatusRefunded,
			"kind":       payment.Kind,
			"sku_id":     payment.SkuID,
			"amount_php": payment.AmountPhp,
		})
		if err != nil {
			return fmt.Errorf("marshal refund result: %w", err)
		}
		return s.outbox.Create(ctx, tx, &model.OutboxMessage{
			MessageKey: payment.PaymentNo,
			Topic:      s.cfg.Kafka.Topic.SettlementResult,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, AuditParams{
		AdminID:    p.AdminID,
		Action:     model.AuditActionPaymentRefunded,
		TargetType: model.AuditTargetPayment,
		TargetID:   payment.PaymentNo,
		OrgID:      payment.OrgID,
		Detail: map[string]interface{}{
			"payment_no":     payment.PaymentNo,
			"user_id":        payment.UserID,
			"kind":           payment.Kind,
			"sku_id":         payment.SkuID,
			"clawback":       clawback,
			"reason":         reason,
			"balance_before": result.BalanceBefore,
			"new_balance":    result.NewBalance,
		},
		Meta: p.Meta,
	})
	s.logger.Infow("payment refunded",
		"payment_no", payment.PaymentNo,
		"user_id", payment.UserID,
		"org_id", payment.OrgID,
		"clawback", clawback,
	)
	return result, nil
}
