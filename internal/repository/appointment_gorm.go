package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/dentalops/dentalflow/internal/domain/appointment"
)

type AppointmentGormRepository struct {
	db *gorm.DB
}

func NewAppointmentGormRepository(db *gorm.DB) *AppointmentGormRepository {
	return &AppointmentGormRepository{db: db}
}

// Postgres error codes that mean a concurrent writer beat us to the calendar:
// the booked-range exclusion constraint (23P01) or a unique index (23505).
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

func translateCommitError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation {
			return appointment.ErrConcurrentModification
		}
	}
	return err
}

func (r *AppointmentGormRepository) Create(ctx context.Context, a *appointment.Appointment, entry *appointment.StatusHistoryEntry) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		entry.AppointmentID = a.ID
		return tx.Create(entry).Error
	})
	return translateCommitError(err)
}

func (r *AppointmentGormRepository) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var a appointment.Appointment
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appointment.ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *AppointmentGormRepository) List(ctx context.Context, q *appointment.ListQuery) (*appointment.PagedAppointments, error) {
	tx := r.db.WithContext(ctx).Model(&appointment.Appointment{})

	if q.PatientID != nil {
		tx = tx.Where("patient_id = ?", *q.PatientID)
	}
	if q.PractitionerID != nil {
		tx = tx.Where("practitioner_id = ?", *q.PractitionerID)
	}
	if q.Status != nil {
		tx = tx.Where("status = ?", *q.Status)
	}
	if q.DateFrom != nil {
		tx = tx.Where("COALESCE(booked_start, requested_start) >= ?", *q.DateFrom)
	}
	if q.DateTo != nil {
		tx = tx.Where("COALESCE(booked_start, requested_start) < ?", *q.DateTo)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	var appts []*appointment.Appointment
	offset := (q.Page - 1) * q.PageSize
	err := tx.
		Order("COALESCE(booked_start, requested_start) ASC NULLS LAST").
		Offset(offset).
		Limit(q.PageSize).
		Find(&appts).Error
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	return &appointment.PagedAppointments{
		Appointments: appts,
		TotalCount:   total,
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   totalPages,
	}, nil
}

func (r *AppointmentGormRepository) ListOccupying(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]*appointment.Appointment, error) {
	tx := r.db.WithContext(ctx).
		Where("practitioner_id = ?", practitionerID).
		Where("status IN ?", appointment.OccupyingStatuses).
		// Half-open intersection with [from, to).
		Where("booked_start < ? AND booked_end > ?", to, from)

	if excludeID != nil {
		tx = tx.Where("id <> ?", *excludeID)
	}

	var appts []*appointment.Appointment
	if err := tx.Order("booked_start ASC").Find(&appts).Error; err != nil {
		return nil, err
	}
	return appts, nil
}

func (r *AppointmentGormRepository) CommitWithHistory(ctx context.Context, a *appointment.Appointment, entry *appointment.StatusHistoryEntry) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&appointment.Appointment{}).
			Where("id = ? AND version = ?", a.ID, a.Version).
			Updates(map[string]any{
				"requested_start": a.RequestedStart,
				"proposed_start":  a.ProposedStart,
				"proposed_end":    a.ProposedEnd,
				"booked_start":    a.BookedStart,
				"booked_end":      a.BookedEnd,
				"status":          a.Status,
				"version":         a.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		// Zero rows means the version moved underneath us (or the row is
		// gone); either way the caller must reload and re-validate.
		if res.RowsAffected == 0 {
			return appointment.ErrConcurrentModification
		}

		entry.AppointmentID = a.ID
		return tx.Create(entry).Error
	})
	if err != nil {
		return translateCommitError(err)
	}

	a.Version++
	return nil
}

func (r *AppointmentGormRepository) UpdatePractitionerNote(ctx context.Context, id uuid.UUID, note string) error {
	res := r.db.WithContext(ctx).
		Model(&appointment.Appointment{}).
		Where("id = ?", id).
		Update("practitioner_note", note)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return appointment.ErrAppointmentNotFound
	}
	return nil
}

func (r *AppointmentGormRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]*appointment.StatusHistoryEntry, error) {
	var entries []*appointment.StatusHistoryEntry
	err := r.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("changed_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Compile-time check
var _ appointment.Repository = (*AppointmentGormRepository)(nil)
