package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ListQuery struct {
	PatientID      *uuid.UUID
	PractitionerID *uuid.UUID
	Status         *Status
	DateFrom       *time.Time
	DateTo         *time.Time
	Page           int
	PageSize       int
}

type PagedAppointments struct {
	Appointments []*Appointment
	TotalCount   int64
	Page         int
	PageSize     int
	TotalPages   int
}

type Repository interface {
	// Create inserts the appointment together with its initial history entry
	// in one transaction. A storage-level overlap loss surfaces as
	// ErrConcurrentModification.
	Create(ctx context.Context, a *Appointment, entry *StatusHistoryEntry) error

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	List(ctx context.Context, q *ListQuery) (*PagedAppointments, error)

	// ListOccupying returns the booking ledger: committed bookings for the
	// practitioner whose booked window intersects [from, to), excluding the
	// appointment under edit when excludeID is non-nil.
	ListOccupying(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]*Appointment, error)

	// CommitWithHistory persists the appointment's field updates and appends
	// the history entry atomically. The appointment's Version must match the
	// stored row; a miss or an overlap-constraint loss surfaces as
	// ErrConcurrentModification.
	CommitWithHistory(ctx context.Context, a *Appointment, entry *StatusHistoryEntry) error

	// UpdatePractitionerNote mutates only the practitioner-only annotation;
	// legal at any status and not a state transition.
	UpdatePractitionerNote(ctx context.Context, id uuid.UUID, note string) error

	// ListHistory returns the full transition record, descending by
	// changed_at for display.
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]*StatusHistoryEntry, error)
}
