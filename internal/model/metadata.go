package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Transaction metadata is stored as JSON with a discriminating "type" field.
// Each known action gets a checked shape instead of a free-form blob; unknown
// future fields survive round trips because readers unmarshal leniently.

// TransactionMetadata is implemented by every metadata variant.
type TransactionMetadata interface {
	MetadataType() string
	Validate() error
}

// PurchaseMetadata annotates a provider-settled credit purchase.
type PurchaseMetadata struct {
	SkuID       string `json:"sku_id"`
	PackageName string `json:"package_name"`
	AmountPhp   int64  `json:"amount_php"`
	Provider    string `json:"provider"`
}

func (PurchaseMetadata) MetadataType() string { return "credit_purchase" }

func (m PurchaseMetadata) Validate() error {
	if m.SkuID == "" {
		return errors.New("purchase metadata: sku_id is required")
	}
	if m.AmountPhp < 0 {
		return errors.New("purchase metadata: amount_php must not be negative")
	}
	return nil
}

// BypassMetadata annotates an administrative bypass grant. Bypass is always
// true; it exists in the payload so reconciliation queries can filter on it.
type BypassMetadata struct {
	SkuID       string `json:"sku_id"`
	PackageName string `json:"package_name,omitempty"`
	AmountPhp   int64  `json:"amount_php,omitempty"`
	Bypass      bool   `json:"bypass"`
}

func (BypassMetadata) MetadataType() string { return "credit_purchase_bypass" }

func (m BypassMetadata) Validate() error {
	if m.SkuID == "" {
		return errors.New("bypass metadata: sku_id is required")
	}
	if !m.Bypass {
		return errors.New("bypass metadata: bypass must be true")
	}
	return nil
}

// FeatureMetadata annotates a feature unlock (paid or bypass).
type FeatureMetadata struct {
	SkuID       string `json:"sku_id"`
	FeatureFlag string `json:"feature_flag"`
	FeatureName string `json:"feature_name,omitempty"`
	AmountPhp   int64  `json:"amount_php,omitempty"`
	Bypass      bool   `json:"bypass,omitempty"`
}

func (FeatureMetadata) MetadataType() string { return "feature_purchase" }

func (m FeatureMetadata) Validate() error {
	if m.SkuID == "" {
		return errors.New("feature metadata: sku_id is required")
	}
	if m.FeatureFlag == "" {
		return errors.New("feature metadata: feature_flag is required")
	}
	return nil
}

// AdjustmentMetadata annotates a raw administrative delta.
type AdjustmentMetadata struct {
	Reason  string `json:"reason"`
	AdminID string `json:"admin_id"`
}

func (AdjustmentMetadata) MetadataType() string { return "credit_adjustment" }

func (m AdjustmentMetadata) Validate() error {
	if m.AdminID == "" {
		return errors.New("adjustment metadata: admin_id is required")
	}
	return nil
}

// UsageMetadata annotates a usage debit.
type UsageMetadata struct {
	UsageKind string `json:"usage_kind"` // e.g. card_generation
	CardID    string `json:"card_id,omitempty"`
}

func (UsageMetadata) MetadataType() string { return "usage" }

func (m UsageMetadata) Validate() error {
	if m.UsageKind == "" {
		return errors.New("usage metadata: usage_kind is required")
	}
	return nil
}

// RefundMetadata annotates the reversal of a paid purchase.
type RefundMetadata struct {
	PaymentNo string `json:"payment_no"`
	Reason    string `json:"reason"`
	AdminID   string `json:"admin_id"`
}

func (RefundMetadata) MetadataType() string { return "refund" }

func (m RefundMetadata) Validate() error {
	if m.PaymentNo == "" {
		return errors.New("refund metadata: payment_no is required")
	}
	return nil
}

// EncodeMetadata validates a metadata variant and serializes it with its
// discriminating type field.
func EncodeMetadata(m TransactionMetadata) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal %s metadata: %w", m.MetadataType(), err)
	}
	// Inject the type discriminator without forcing every variant to carry
	// a duplicate field.
	var flat map[string]interface{}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return "", err
	}
	flat["type"] = m.MetadataType()
	out, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
