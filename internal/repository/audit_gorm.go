package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/dentalops/dentalflow/internal/domain"
	"github.com/dentalops/dentalflow/internal/service"
)

type AuditGormRepository struct {
	db *gorm.DB
}

func NewAuditGormRepository(db *gorm.DB) *AuditGormRepository {
	return &AuditGormRepository{db: db}
}

func (r *AuditGormRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

var _ service.AuditRepository = (*AuditGormRepository)(nil)
