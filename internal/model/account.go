package model

import (
	"time"
)

// Account holds the credit balance and purchased feature unlocks for one
// user within one organization. The balance is only ever mutated through the
// ledger service so that every change leaves a CreditTransaction behind.
type Account struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              string    `gorm:"type:varchar(64);uniqueIndex:idx_account_user_org;not null" json:"user_id"`
	OrgID               string    `gorm:"type:varchar(64);uniqueIndex:idx_account_user_org;not null" json:"org_id"`
	Balance             int64     `gorm:"not null;default:0" json:"balance"`
	CardGenerationCount int64     `gorm:"not null;default:0" json:"card_generation_count"` // lifetime generations, drives the free tier
	TemplateCount       int64     `gorm:"not null;default:0" json:"template_count"`
	UnlimitedTemplates  bool      `gorm:"not null;default:false" json:"unlimited_templates"`
	RemoveWatermarks    bool      `gorm:"not null;default:false" json:"remove_watermarks"`
	APIAccess           bool      `gorm:"not null;default:false" json:"api_access"`
	BulkProcessing      bool      `gorm:"not null;default:false" json:"bulk_processing"`
	Version             int       `gorm:"not null;default:0" json:"version"` // optimistic lock version
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// FeatureFlags is the set of unlockable account features. A grant merges
// true values into the account; a grant never clears a flag.
type FeatureFlags struct {
	UnlimitedTemplates bool `json:"unlimited_templates,omitempty"`
	RemoveWatermarks   bool `json:"remove_watermarks,omitempty"`
	APIAccess          bool `json:"api_access,omitempty"`
	BulkProcessing     bool `json:"bulk_processing,omitempty"`
}

// Empty reports whether no flag is set.
func (f FeatureFlags) Empty() bool {
	return !f.UnlimitedTemplates && !f.RemoveWatermarks && !f.APIAccess && !f.BulkProcessing
}

// Names returns the set flags as their snake_case identifiers.
func (f FeatureFlags) Names() []string {
	var names []string
	if f.UnlimitedTemplates {
		names = append(names, "unlimited_templates")
	}
	if f.RemoveWatermarks {
		names = append(names, "remove_watermarks")
	}
	if f.APIAccess {
		names = append(names, "api_access")
	}
	if f.BulkProcessing {
		names = append(names, "bulk_processing")
	}
	return names
}
