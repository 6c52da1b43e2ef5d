package repository

import (
	"context"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit entry. Append-only: no update or delete exists.
func (r *AuditRepository) Create(ctx context.Context, entry *model.AdminAuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *AuditRepository) ListByOrg(ctx context.Context, orgID string, page, pageSize int) ([]*model.AdminAuditEntry, int64, error) {
	var entries []*model.AdminAuditEntry
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.AdminAuditEntry{}).
		Where("org_id = ?", orgID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
