package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dentalops/dentalflow/internal/domain/availability"
)

type AvailabilityGormRepository struct {
	db *gorm.DB
}

func NewAvailabilityGormRepository(db *gorm.DB) *AvailabilityGormRepository {
	return &AvailabilityGormRepository{db: db}
}

func (r *AvailabilityGormRepository) GetByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]*availability.Window, error) {
	var windows []*availability.Window
	err := r.db.WithContext(ctx).
		Where("practitioner_id = ?", practitionerID).
		Order("weekday ASC").
		Find(&windows).Error
	if err != nil {
		return nil, err
	}
	return windows, nil
}

// Replace swaps the practitioner's full weekly set in one transaction so
// readers never observe a partially updated week.
func (r *AvailabilityGormRepository) Replace(ctx context.Context, practitionerID uuid.UUID, windows []*availability.Window) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("practitioner_id = ?", practitionerID).Delete(&availability.Window{}).Error; err != nil {
			return err
		}
		if len(windows) == 0 {
			return nil
		}
		return tx.Create(windows).Error
	})
}

var _ availability.Repository = (*AvailabilityGormRepository)(nil)
