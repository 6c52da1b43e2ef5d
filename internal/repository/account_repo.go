package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Get(ctx context.Context, userID, orgID string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetForUpdate reads the account row under an exclusive row lock. Every
// balance mutation goes through this inside a transaction, which linearizes
// concurrent mutators of the same account.
func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, userID, orgID string) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate returns the account, creating a zero-balance row on first
// touch. Insert races are absorbed by OnConflict DoNothing plus re-read.
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID, orgID string) (*model.Account, error) {
	account, err := r.Get(ctx, userID, orgID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		UserID: userID,
		OrgID:  orgID,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "org_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, userID, orgID)
}

// UpdateBalance writes an absolute balance computed by the ledger service
// under the row lock taken by GetForUpdate.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, accountID int64, newBalance int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"balance": newBalance,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// EnableFeatures merges true flags into the account; false flags are left
// untouched so a grant can never revoke a previously purchased feature.
func (r *AccountRepository) EnableFeatures(ctx context.Context, tx *gorm.DB, accountID int64, flags model.FeatureFlags) error {
	if tx == nil {
		tx = r.db
	}
	updates := map[string]interface{}{}
	if flags.UnlimitedTemplates {
		updates["unlimited_templates"] = true
	}
	if flags.RemoveWatermarks {
		updates["remove_watermarks"] = true
	}
	if flags.APIAccess {
		updates["api_access"] = true
	}
	if flags.BulkProcessing {
		updates["bulk_processing"] = true
	}
	if len(updates) == 0 {
		return nil
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// IncrementGenerationCount bumps the free-tier usage counter.
func (r *AccountRepository) IncrementGenerationCount(ctx context.Context, tx *gorm.DB, accountID int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		UpdateColumn("card_generation_count", gorm.Expr("card_generation_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
