package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"creditledger/internal/catalog"
	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettleStatus is the outcome of one webhook delivery.
type SettleStatus int

const (
	// SettleApplied means this delivery changed state: the payment
	// transitioned and, for a success event, the ledger was credited.
	SettleApplied SettleStatus = iota
	// SettleAlreadyProcessed means the event id was seen before. Nothing
	// happened, the delivery is acknowledged.
	SettleAlreadyProcessed
	// SettlePaymentNotFound means no payment record matches the provider's
	// payment id. The event is marked processed and acknowledged so the
	// provider stops retrying; reconciliation picks it up from the marker.
	SettlePaymentNotFound
	// SettleIgnored means the event type carries no settlement semantics.
	SettleIgnored
)

// Provider event types that settle a payment.
const (
	EventTypePaymentPaid   = "payment.paid"
	EventTypePaymentFailed = "payment.failed"
)

// ProviderEvent is the parsed webhook body handed to the settlement engine.
type ProviderEvent struct {
	EventID           string
	EventType         string
	ProviderPaymentID string
	Method            string
	FailureReason     string
	RawPayload        string
}

// SettlementService turns provider webhook events into payment transitions
// and ledger mutations. One delivery is one storage transaction: the
// processed-event marker, the status transition, the ledger entry and the
// outbox message commit together or not at all.
type SettlementService struct {
	txm      TxManager
	payments PaymentStore
	webhooks WebhookStore
	outbox   OutboxStore
	ledger   *LedgerService
	audit    *AuditService
	cfg      *config.Config
	logger   *zap.SugaredLogger
}

func NewSettlementService(
	txm TxManager,
	payments PaymentStore,
	webhooks WebhookStore,
	outbox OutboxStore,
	ledger *LedgerService,
	audit *AuditService,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *SettlementService {
	return &SettlementService{
		txm:      txm,
		payments: payments,
		webhooks: webhooks,
		outbox:   outbox,
		ledger:   ledger,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
	}
}

// settlementPlan is the decision half of settlement, computed before any
// write. A success event for an unknown or inactive SKU settles the payment
// as failed rather than crediting an amount we cannot resolve.
type settlementPlan struct {
	ToStatus    string
	Reason      string
	CreditDelta int64
	PackageName string
	Flags       model.FeatureFlags
	FeatureName string
}

func planSettlement(payment *model.PaymentRecord, ev ProviderEvent) settlementPlan {
	if ev.EventType == EventTypePaymentFailed {
		reason := ev.FailureReason
		if reason == "" {
			reason = "provider reported failure"
		}
		return settlementPlan{ToStatus: model.PaymentStatusFailed, Reason: reason}
	}

	switch payment.Kind {
	case model.PurchaseKindCredit:
		pkg, err := catalog.ResolvePackage(payment.SkuID)
		if err != nil {
			return settlementPlan{ToStatus: model.PaymentStatusFailed, Reason: "unknown or inactive sku"}
		}
		return settlementPlan{
			ToStatus:    model.PaymentStatusPaid,
			CreditDelta: pkg.Credits,
			PackageName: pkg.Name,
		}
	case model.PurchaseKindFeature:
		sku, err := catalog.ResolveFeature(payment.SkuID)
		if err != nil {
			return settlementPlan{ToStatus: model.PaymentStatusFailed, Reason: "unknown or inactive sku"}
		}
		return settlementPlan{
			ToStatus:    model.PaymentStatusPaid,
			Flags:       sku.Flags,
			FeatureName: sku.Name,
		}
	default:
		return settlementPlan{ToStatus: model.PaymentStatusFailed, Reason: "unknown purchase kind"}
	}
}

// HandleEvent processes one webhook delivery. Redelivery of a processed
// event id returns SettleAlreadyProcessed without touching anything; the
// unique index on the event marker closes the race between two concurrent
// deliveries of the same event.
func (s *SettlementService) HandleEvent(ctx context.Context, ev ProviderEvent) (SettleStatus, error) {
	if ev.EventType != EventTypePaymentPaid && ev.EventType != EventTypePaymentFailed {
		s.logger.Infow("ignoring webhook event type",
			"event_id", ev.EventID,
			"event_type", ev.EventType,
		)
		return SettleIgnored, nil
	}

	status := SettleApplied
	var settled *model.PaymentRecord
	var plan settlementPlan

	err := s.txm.InTx(ctx, func(tx *gorm.DB) error {
		// The marker goes in first. If another delivery of this event id is
		// in flight, exactly one insert wins; the loser rolls back here.
		marker := &model.WebhookEvent{
			EventID:    ev.EventID,
			EventType:  ev.EventType,
			Provider:   model.ProviderPayMongo,
			RawPayload: ev.RawPayload,
		}
		if err := s.webhooks.Mark(ctx, tx, marker); err != nil {
			if errors.Is(err, repository.ErrDuplicateEvent) {
				status = SettleAlreadyProcessed
				return nil
			}
			return fmt.Errorf("mark webhook event: %w", err)
		}

		payment, err := s.payments.GetByProviderPaymentID(ctx, tx, ev.ProviderPaymentID)
		if err != nil {
			if errors.Is(err, repository.ErrPaymentNotFound) {
				// Commit the marker so the provider stops redelivering.
				status = SettlePaymentNotFound
				return nil
			}
			return fmt.Errorf("load payment: %w", err)
		}

		plan = planSettlement(payment, ev)

		upd := repository.TransitionUpdates{RawEvent: ev.RawPayload}
		if ev.Method != "" {
			upd.Method = &ev.Method
		}
		if plan.Reason != "" {
			upd.Reason = &plan.Reason
		}
		if plan.ToStatus == model.PaymentStatusPaid {
			paidAt := nowFunc()
			upd.PaidAt = &paidAt
		}
		if err := s.payments.Transition(ctx, tx, payment.PaymentNo, model.PaymentStatusPending, plan.ToStatus, upd); err != nil {
			return fmt.Errorf("transition %s: %w", payment.PaymentNo, err)
		}

		if plan.ToStatus == model.PaymentStatusPaid {
			if plan.CreditDelta > 0 {
				_, err := s.ledger.Apply(ctx, tx, ApplyParams{
					UserID:      payment.UserID,
					OrgID:       payment.OrgID,
					Delta:       plan.CreditDelta,
					Type:        model.TransactionTypePurchase,
					Description: fmt.Sprintf("Purchased %s", plan.PackageName),
					ReferenceID: payment.PaymentNo,
					Metadata: model.PurchaseMetadata{
						SkuID:       payment.SkuID,
						PackageName: plan.PackageName,
						AmountPhp:   payment.AmountPhp,
						Provider:    payment.Provider,
					},
				})
				if err != nil {
					return fmt.Errorf("credit purchase: %w", err)
				}
			}
			if !plan.Flags.Empty() {
				_, err := s.ledger.GrantFeatures(ctx, tx, ApplyParams{
					UserID:      payment.UserID,
					OrgID:       payment.OrgID,
					Type:        model.TransactionTypePurchase,
					Description: fmt.Sprintf("Unlocked %s", plan.FeatureName),
					ReferenceID: payment.PaymentNo,
					Metadata: model.FeatureMetadata{
						SkuID:       payment.SkuID,
						FeatureFlag: strings.Join(plan.Flags.Names(), ","),
						FeatureName: plan.FeatureName,
						AmountPhp:   payment.AmountPhp,
					},
				}, plan.Flags)
				if err != nil {
					return fmt.Errorf("unlock features: %w", err)
				}
			}
		}

		settled = payment
		return s.enqueueResult(ctx, tx, payment, plan, ev.EventID)
	})
	if err != nil {
		return 0, err
	}

	if status == SettleApplied && settled != nil {
		detail := map[string]interface{}{
			"payment_no": settled.PaymentNo,
			"event_id":   ev.EventID,
			"status":     plan.ToStatus,
			"kind":       settled.Kind,
			"sku_id":     settled.SkuID,
			"amount_php": settled.AmountPhp,
		}
		s.audit.Log(ctx, AuditParams{
			AdminID:    SystemActorID,
			Action:     model.AuditActionPaymentSettled,
			TargetType: model.AuditTargetPayment,
			TargetID:   settled.PaymentNo,
			OrgID:      settled.OrgID,
			Detail:     detail,
		})
		s.logger.Infow("payment settled",
			"payment_no", settled.PaymentNo,
			"event_id", ev.EventID,
			"status", plan.ToStatus,
			"user_id", settled.UserID,
			"org_id", settled.OrgID,
		)
	}
	return status, nil
}

// enqueueResult writes the settlement result to the outbox within the
// settlement transaction. The sender job publishes it to kafka afterwards.
func (s *SettlementService) enqueueResult(ctx context.Context, tx *gorm.DB, payment *model.PaymentRecord, plan settlementPlan, eventID string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"payment_no": payment.PaymentNo,
		"user_id":    payment.UserID,
		"org_id":     payment.OrgID,
		"status":     plan.ToStatus,
		"kind":       payment.Kind,
		"sku_id":     payment.SkuID,
		"amount_php": payment.AmountPhp,
		"event_id":   eventID,
	})
	if err != nil {
		return fmt.Errorf("marshal settlement result: %w", err)
	}
	msg := &model.OutboxMessage{
		MessageKey: payment.PaymentNo,
		Topic:      s.cfg.Kafka.Topic.SettlementResult,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outbox.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("enqueue settlement result: %w", err)
	}
	return nil
}
