package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"creditledger/internal/catalog"
	"creditledger/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BypassService is the administrative grant path. It reuses the catalog and
// the ledger primitive so a bypass grant lands exactly like a paid purchase
// would, but with a synthetic reference and bypass-tagged metadata, and every
// attempt is audited whether it succeeded or not.
type BypassService struct {
	txm    TxManager
	ledger *LedgerService
	audit  *AuditService
	logger *zap.SugaredLogger
}

func NewBypassService(txm TxManager, ledger *LedgerService, audit *AuditService, logger *zap.SugaredLogger) *BypassService {
	return &BypassService{txm: txm, ledger: ledger, audit: audit, logger: logger}
}

// bypassReference builds a reference id for grants that have no payment
// record behind them. 128 bits of entropy keeps it collision-free without
// coordination.
func bypassReference() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("bypass_%d_%s", nowFunc().UnixMilli(), hex.EncodeToString(buf))
}

type GrantParams struct {
	AdminID string
	UserID  string
	OrgID   string
	SkuID   string
	Meta    RequestMeta
}

// GrantPackage credits a package's worth of credits without payment.
func (s *BypassService) GrantPackage(ctx context.Context, p GrantParams) (*ApplyResult, error) {
	pkg, err := catalog.ResolvePackage(p.SkuID)
	if err != nil {
		s.logGrantAudit(ctx, p, model.AuditActionBypassPurchase, "", nil, err)
		return nil, err
	}

	if _, err := s.ledger.GetAccount(ctx, p.UserID, p.OrgID); err != nil {
		s.logGrantAudit(ctx, p, model.AuditActionBypassPurchase, "", nil, err)
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	ref := bypassReference()
	var result *ApplyResult
	err = s.txm.InTx(ctx, func(tx *gorm.DB) error {
		result, err = s.ledger.Apply(ctx, tx, ApplyParams{
			UserID:      p.UserID,
			OrgID:       p.OrgID,
			Delta:       pkg.Credits,
			Type:        model.TransactionTypeBonus,
			Description: fmt.Sprintf("Admin grant: %s", pkg.Name),
			ReferenceID: ref,
			Metadata: model.BypassMetadata{
				SkuID:       p.SkuID,
				PackageName: pkg.Name,
				AmountPhp:   pkg.AmountPhp,
				Bypass:      true,
			},
		})
		return err
	})
	s.logGrantAudit(ctx, p, model.AuditActionBypassPurchase, ref, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GrantFeature unlocks a feature SKU's flags without payment.
func (s *BypassService) GrantFeature(ctx context.Context, p GrantParams) (*ApplyResult, error) {
	sku, err := catalog.ResolveFeature(p.SkuID)
	if err != nil {
		s.logGrantAudit(ctx, p, model.AuditActionFeatureBypass, "", nil, err)
		return nil, err
	}

	if _, err := s.ledger.GetAccount(ctx, p.UserID, p.OrgID); err != nil {
		s.logGrantAudit(ctx, p, model.AuditActionFeatureBypass, "", nil, err)
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	ref := bypassReference()
	var result *ApplyResult
	err = s.txm.InTx(ctx, func(tx *gorm.DB) error {
		result, err = s.ledger.GrantFeatures(ctx, tx, ApplyParams{
			UserID:      p.UserID,
			OrgID:       p.OrgID,
			Type:        model.TransactionTypeBonus,
			Description: fmt.Sprintf("Admin grant: %s", sku.Name),
			ReferenceID: ref,
			Metadata: model.FeatureMetadata{
				SkuID:       p.SkuID,
				FeatureFlag: strings.Join(sku.Flags.Names(), ","),
				FeatureName: sku.Name,
				Bypass:      true,
			},
		}, sku.Flags)
		return err
	})
	s.logGrantAudit(ctx, p, model.AuditActionFeatureBypass, ref, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

type AdjustParams struct {
	AdminID string
	UserID  string
	OrgID   string
	Delta   int64
	Reason  string
	Meta    RequestMeta
}

// Adjust applies a raw administrative delta. A debit larger than the balance
// clamps at zero; the ledger entry records the effective amount.
func (s *BypassService) Adjust(ctx context.Context, p AdjustParams) (*ApplyResult, error) {
	if p.Delta == 0 {
		return nil, fmt.Errorf("adjustment delta must be non-zero")
	}

	if _, err := s.ledger.GetAccount(ctx, p.UserID, p.OrgID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	description := p.Reason
	if description == "" {
		description = "Admin balance adjustment"
	}

	var result *ApplyResult
	err := s.txm.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.ledger.Apply(ctx, tx, ApplyParams{
			UserID:      p.UserID,
			OrgID:       p.OrgID,
			Delta:       p.Delta,
			Type:        model.TransactionTypeAdjustment,
			Description: description,
			Metadata: model.AdjustmentMetadata{
				Reason:  p.Reason,
				AdminID: p.AdminID,
			},
			ClampAtZero: true,
		})
		return err
	})

	detail := map[string]interface{}{
		"user_id": p.UserID,
		"delta":   p.Delta,
		"reason":  p.Reason,
	}
	if err != nil {
		detail["error"] = err.Error()
	} else {
		detail["balance_before"] = result.BalanceBefore
		detail["new_balance"] = result.NewBalance
	}
	s.audit.Log(ctx, AuditParams{
		AdminID:    p.AdminID,
		Action:     model.AuditActionCreditAdjustment,
		TargetType: model.AuditTargetCredit,
		TargetID:   p.UserID,
		OrgID:      p.OrgID,
		Detail:     detail,
		Meta:       p.Meta,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BypassService) logGrantAudit(ctx context.Context, p GrantParams, action, ref string, result *ApplyResult, opErr error) {
	detail := map[string]interface{}{
		"user_id": p.UserID,
		"sku_id":  p.SkuID,
	}
	if ref != "" {
		detail["reference_id"] = ref
	}
	if result != nil {
		detail["balance_before"] = result.BalanceBefore
		detail["new_balance"] = result.NewBalance
	}
	if opErr != nil {
		detail["error"] = opErr.Error()
	}
	s.audit.Log(ctx, AuditParams{
		AdminID:    p.AdminID,
		Action:     action,
		TargetType: model.AuditTargetCredit,
		TargetID:   p.UserID,
		OrgID:      p.OrgID,
		Detail:     detail,
		Meta:       p.Meta,
	})
}
