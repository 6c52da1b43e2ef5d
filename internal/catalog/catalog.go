// Package catalog is the fixed, server-only price table. Clients only ever
// send SKU ids; the canonical amount and granted quantity are resolved here
// at checkout and again at settlement, so a stale or forged client price can
// never reach the ledger.
package catalog

import (
	"errors"

	"creditledger/internal/model"
)

var (
	ErrSkuNotFound = errors.New("sku not found")
	ErrSkuInactive = errors.New("sku inactive")
)

// CreditPackage grants a fixed number of credits for a fixed peso price.
type CreditPackage struct {
	ID          string
	Name        string
	Credits     int64
	AmountPhp   int64
	Description string
	Active      bool
}

// FeatureSKU unlocks account feature flags for a fixed peso price.
type FeatureSKU struct {
	ID          string
	Name        string
	Flags       model.FeatureFlags
	AmountPhp   int64
	Description string
	Active      bool
}

var creditPackages = []CreditPackage{
	{ID: "credits_100", Name: "100 Credits", Credits: 100, AmountPhp: 50, Description: "Perfect for light usage", Active: true},
	{ID: "credits_500", Name: "500 Credits", Credits: 500, AmountPhp: 200, Description: "Great value for regular users", Active: true},
	{ID: "credits_1000", Name: "1000 Credits", Credits: 1000, AmountPhp: 350, Description: "Best value - save 12.5%", Active: true},
	{ID: "credits_2500", Name: "2500 Credits", Credits: 2500, AmountPhp: 750, Description: "For power users - save 25%", Active: true},
}

var featureSKUs = []FeatureSKU{
	{ID: "premium_monthly", Name: "Premium Monthly", Flags: model.FeatureFlags{UnlimitedTemplates: true, RemoveWatermarks: true}, AmountPhp: 299, Description: "Premium features for 30 days", Active: true},
	{ID: "premium_yearly", Name: "Premium Yearly", Flags: model.FeatureFlags{UnlimitedTemplates: true, RemoveWatermarks: true}, AmountPhp: 2999, Description: "Premium features for 365 days - save 17%", Active: true},
	{ID: "api_access", Name: "API Access", Flags: model.FeatureFlags{APIAccess: true}, AmountPhp: 199, Description: "Access to API endpoints", Active: true},
	{ID: "bulk_processing", Name: "Bulk Processing", Flags: model.FeatureFlags{BulkProcessing: true}, AmountPhp: 499, Description: "Process multiple items at once", Active: true},
	{ID: "unlimited_templates", Name: "Unlimited Templates", Flags: model.FeatureFlags{UnlimitedTemplates: true}, AmountPhp: 99, Description: "Create unlimited custom templates", Active: true},
	{ID: "remove_watermarks", Name: "Remove Watermarks", Flags: model.FeatureFlags{RemoveWatermarks: true}, AmountPhp: 199, Description: "Remove watermarks from all generated cards", Active: true},
}

var (
	creditPackageByID = func() map[string]CreditPackage {
		m := make(map[string]CreditPackage, len(creditPackages))
		for _, p := range creditPackages {
			m[p.ID] = p
		}
		return m
	}()
	featureSKUByID = func() map[string]FeatureSKU {
		m := make(map[string]FeatureSKU, len(featureSKUs))
		for _, s := range featureSKUs {
			m[s.ID] = s
		}
		return m
	}()
)

// ResolvePackage returns the canonical credit package for a SKU id.
func ResolvePackage(id string) (CreditPackage, error) {
	p, ok := creditPackageByID[id]
	if !ok {
		return CreditPackage{}, ErrSkuNotFound
	}
	if !p.Active {
		return CreditPackage{}, ErrSkuInactive
	}
	return p, nil
}

// ResolveFeature returns the canonical feature SKU for a SKU id.
func ResolveFeature(id string) (FeatureSKU, error) {
	s, ok := featureSKUByID[id]
	if !ok {
		return FeatureSKU{}, ErrSkuNotFound
	}
	if !s.Active {
		return FeatureSKU{}, ErrSkuInactive
	}
	return s, nil
}

// PackageMetadata is the client-safe view of a credit package. The peso
// amount is deliberately absent.
type PackageMetadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Credits     int64  `json:"credits"`
	Description string `json:"description"`
}

// FeatureMetadata is the client-safe view of a feature SKU, without price.
type FeatureMetadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ActivePackageMetadata lists active credit packages for client display.
func ActivePackageMetadata() []PackageMetadata {
	out := make([]PackageMetadata, 0, len(creditPackages))
	for _, p := range creditPackages {
		if !p.Active {
			continue
		}
		out = append(out, PackageMetadata{ID: p.ID, Name: p.Name, Credits: p.Credits, Description: p.Description})
	}
	return out
}

// ActiveFeatureMetadata lists active feature SKUs for client display.
func ActiveFeatureMetadata() []FeatureMetadata {
	out := make([]FeatureMetadata, 0, len(featureSKUs))
	for _, s := range featureSKUs {
		if !s.Active {
			continue
		}
		out = append(out, FeatureMetadata{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	return out
}
