package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dentalops/dentalflow/internal/domain"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusProposed  Status = "proposed"
	StatusBooked    Status = "booked"
	StatusArrived   Status = "arrived"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// OccupiesCalendar reports whether the status reserves time on the
// practitioner's calendar.
func (s Status) OccupiesCalendar() bool {
	switch s {
	case StatusBooked, StatusArrived, StatusOngoing, StatusCompleted:
		return true
	}
	return false
}

// OccupyingStatuses is the set used when loading the booking ledger.
var OccupyingStatuses = []Status{StatusBooked, StatusArrived, StatusOngoing, StatusCompleted}

type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func (w TimeWindow) Valid() bool {
	return !w.Start.IsZero() && w.End.After(w.Start)
}

// Overlaps uses the half-open interval test: touching endpoints do not
// overlap.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && w.End.After(o.Start)
}

type Appointment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	// Version guards against stale concurrent edits of the same row.
	Version int `gorm:"column:version;not null;default:1"`

	// Patient and practitioner records are owned externally; only their
	// identifiers cross this boundary.
	PatientID      uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	PractitionerID uuid.UUID `gorm:"column:practitioner_id;type:uuid;not null;index"`

	// The patient's original ask. Start only: the clinic decides the length.
	RequestedStart *time.Time `gorm:"column:requested_start"`

	// The practitioner's counter-offer, pending patient acceptance.
	ProposedStart *time.Time `gorm:"column:proposed_start"`
	ProposedEnd   *time.Time `gorm:"column:proposed_end"`

	// The committed window once the appointment is booked.
	BookedStart *time.Time `gorm:"column:booked_start;index"`
	BookedEnd   *time.Time `gorm:"column:booked_end"`

	Status Status `gorm:"column:status;type:varchar(20);not null;default:'requested';index"`

	Concern string `gorm:"column:concern;type:text;not null"`

	// Practitioner-only annotation; never returned to patient callers.
	PractitionerNote string `gorm:"column:practitioner_note;type:text"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Appointment) TableName() string {
	return "clinical.appointments"
}

// AuthoritativeWindow returns the time window that currently governs the
// appointment: booked once committed, proposed while a counter-offer is
// pending, otherwise the requested start with no committed end.
func (a *Appointment) AuthoritativeWindow() (start, end *time.Time) {
	switch a.Status {
	case StatusBooked, StatusArrived, StatusOngoing, StatusCompleted:
		return a.BookedStart, a.BookedEnd
	case StatusProposed:
		return a.ProposedStart, a.ProposedEnd
	default:
		return a.RequestedStart, nil
	}
}

// BookedWindow returns the committed window, valid only for
// calendar-occupying statuses.
func (a *Appointment) BookedWindow() (TimeWindow, bool) {
	if a.BookedStart == nil || a.BookedEnd == nil {
		return TimeWindow{}, false
	}
	return TimeWindow{Start: *a.BookedStart, End: *a.BookedEnd}, true
}

// NewRequest creates an appointment from a patient's ask. The slot is not
// validated here: the clinic vets the requested time when proposing or
// accepting.
func NewRequest(patientID, practitionerID uuid.UUID, requestedStart time.Time, concern string, actor domain.Actor, now time.Time) (*Appointment, *StatusHistoryEntry, error) {
	if strings.TrimSpace(concern) == "" {
		return nil, nil, &ValidationError{Field: "concern", Reason: "concern is required at creation"}
	}
	if actor.Role == domain.RolePatient {
		if actor.PatientID == nil || *actor.PatientID != patientID {
			return nil, nil, ErrForbidden
		}
	} else if !actor.Role.IsClinicSide() {
		return nil, nil, ErrForbidden
	}
	if requestedStart.Before(now) {
		return nil, nil, ErrScheduledInPast
	}

	a := &Appointment{
		ID:             uuid.New(),
		Version:        1,
		PatientID:      patientID,
		PractitionerID: practitionerID,
		RequestedStart: &requestedStart,
		Status:         StatusRequested,
		Concern:        concern,
		CreatedBy:      actor.ID,
	}
	return a, a.historyEntry(actor, now, "", ""), nil
}

// NewWalkIn creates an appointment directly in booked status. The caller must
// have validated the window against availability and the booking ledger.
func NewWalkIn(patientID, practitionerID uuid.UUID, window TimeWindow, concern string, actor domain.Actor, now time.Time) (*Appointment, *StatusHistoryEntry, error) {
	if strings.TrimSpace(concern) == "" {
		return nil, nil, &ValidationError{Field: "concern", Reason: "concern is required at creation"}
	}
	if !window.Valid() {
		return nil, nil, &ValidationError{Field: "window", Reason: "end time must be after start time"}
	}
	if !actor.Role.IsClinicSide() {
		return nil, nil, ErrForbidden
	}

	start, end := window.Start, window.End
	a := &Appointment{
		ID:             uuid.New(),
		Version:        1,
		PatientID:      patientID,
		PractitionerID: practitionerID,
		BookedStart:    &start,
		BookedEnd:      &end,
		Status:         StatusBooked,
		Concern:        concern,
		CreatedBy:      actor.ID,
	}
	return a, a.historyEntry(actor, now, "", ""), nil
}

func (a *Appointment) historyEntry(actor domain.Actor, at time.Time, note, feedback string) *StatusHistoryEntry {
	return &StatusHistoryEntry{
		ID:            uuid.New(),
		AppointmentID: a.ID,
		Status:        a.Status,
		ChangedAt:     at,
		ChangedByID:   actor.ID,
		ChangedByRole: actor.Role,
		Note:          note,
		Feedback:      feedback,
	}
}
