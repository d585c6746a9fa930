package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dentalops/dentalflow/internal/domain"
	"github.com/dentalops/dentalflow/internal/domain/appointment"
	"github.com/dentalops/dentalflow/internal/domain/availability"
	redisclient "github.com/dentalops/dentalflow/internal/redis"
	"github.com/dentalops/dentalflow/internal/scheduling"
)

// CalendarLocker serializes commits against one practitioner's calendar day.
// It only reduces constraint-violation churn under contention; correctness
// rests on the storage-level exclusion constraint.
type CalendarLocker interface {
	WithCalendarLock(ctx context.Context, practitionerID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error
}

type SchedulingService struct {
	appts  appointment.Repository
	avail  availability.Repository
	locker CalendarLocker
	audit  *AuditService
	cfg    scheduling.Config
	log    *zap.Logger
	now    func() time.Time
}

func NewSchedulingService(
	appts appointment.Repository,
	avail availability.Repository,
	locker CalendarLocker,
	audit *AuditService,
	cfg scheduling.Config,
	log *zap.Logger,
) *SchedulingService {
	return &SchedulingService{
		appts:  appts,
		avail:  avail,
		locker: locker,
		audit:  audit,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

type CreateRequestCommand struct {
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	RequestedStart time.Time
	Concern        string
}

type CreateWalkInCommand struct {
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	Window         appointment.TimeWindow
	Concern        string
}

type TransitionCommand struct {
	Trigger  appointment.Trigger
	Note     string
	Feedback string
}

// Result pairs the updated appointment with the history entry its transition
// produced.
type Result struct {
	Appointment *appointment.Appointment
	History     *appointment.StatusHistoryEntry
}

// ValidateSlot runs the slot rules against a fresh availability and ledger
// snapshot without committing anything. Exposed standalone so clients can
// give live feedback before the user submits; the commit path re-runs it.
func (s *SchedulingService) ValidateSlot(ctx context.Context, practitionerID uuid.UUID, cand scheduling.Candidate, flow scheduling.Flow, excludeID *uuid.UUID) error {
	windows, err := s.avail.GetByPractitioner(ctx, practitionerID)
	if err != nil {
		return fmt.Errorf("loading availability: %w", err)
	}

	ledger, err := s.loadLedger(ctx, practitionerID, cand.Start, excludeID)
	if err != nil {
		return err
	}

	return scheduling.ValidateSlot(cand, s.cfg.MinDuration(flow), windows, ledger, excludeID, s.now())
}

// CreateRequest records a patient's ask. The slot is not validated here; the
// clinic vets the time when proposing or the patient accepts as-is, both of
// which do validate.
func (s *SchedulingService) CreateRequest(ctx context.Context, cmd *CreateRequestCommand, actor domain.Actor, ip string) (*Result, error) {
	a, entry, err := appointment.NewRequest(cmd.PatientID, cmd.PractitionerID, cmd.RequestedStart, cmd.Concern, actor, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.appts.Create(ctx, a, entry); err != nil {
		s.log.Error("failed to create appointment request", zap.Error(err))
		return nil, fmt.Errorf("creating appointment request: %w", err)
	}

	s.audit.LogAsync(ctx, AuditEntry{
		Actor: actor, Action: domain.ActionCreate,
		ResourceType: "appointment", ResourceID: a.ID.String(), IPAddress: ip,
	})

	return &Result{Appointment: a, History: entry}, nil
}

// CreateWalkIn books a slot directly, bypassing the request/proposal
// exchange. Walk-ins use the shorter minimum duration.
func (s *SchedulingService) CreateWalkIn(ctx context.Context, cmd *CreateWalkInCommand, actor domain.Actor, ip string) (*Result, error) {
	cand := scheduling.Candidate{Start: cmd.Window.Start, End: cmd.Window.End}
	if err := s.ValidateSlot(ctx, cmd.PractitionerID, cand, scheduling.FlowWalkIn, nil); err != nil {
		return nil, err
	}

	a, entry, err := appointment.NewWalkIn(cmd.PatientID, cmd.PractitionerID, cmd.Window, cmd.Concern, actor, s.now())
	if err != nil {
		return nil, err
	}

	err = s.withCalendarLock(ctx, cmd.PractitionerID, cmd.Window.Start, func(ctx context.Context) error {
		return s.appts.Create(ctx, a, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogAsync(ctx, AuditEntry{
		Actor: actor, Action: domain.ActionCreate,
		ResourceType: "appointment", ResourceID: a.ID.String(), IPAddress: ip,
		Changes: `{"status":"booked","flow":"walk_in"}`,
	})

	return &Result{Appointment: a, History: entry}, nil
}

// RequestReschedule counter-offers a new time for an existing appointment.
// Rescheduled visits must meet the longer reschedule minimum.
func (s *SchedulingService) RequestReschedule(ctx context.Context, id uuid.UUID, cand scheduling.Candidate, actor domain.Actor, ip string) (*Result, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.ValidateSlot(ctx, a.PractitionerID, cand, scheduling.FlowReschedule, &a.ID); err != nil {
		return nil, err
	}

	entry, err := a.ApplyTransition(appointment.TransitionInput{
		Trigger: appointment.TriggerProposeTime,
		Actor:   actor,
		Window:  &appointment.TimeWindow{Start: cand.Start, End: cand.End},
		Now:     s.now(),
	})
	if err != nil {
		return nil, err
	}

	// A proposal does not occupy the calendar yet, so no calendar lock.
	if err := s.appts.CommitWithHistory(ctx, a, entry); err != nil {
		return nil, err
	}

	s.audit.LogAsync(ctx, AuditEntry{
		Actor: actor, Action: domain.ActionUpdate,
		ResourceType: "appointment", ResourceID: a.ID.String(), IPAddress: ip,
		Changes: fmt.Sprintf(`{"status":"proposed","proposed_start":%q}`, cand.Start.Format(time.RFC3339)),
	})

	return &Result{Appointment: a, History: entry}, nil
}

// ApplyTransition drives one trigger through the status lifecycle. Triggers
// that commit a booked window (accepting a request or a proposal) re-validate
// the window against a fresh snapshot first.
func (s *SchedulingService) ApplyTransition(ctx context.Context, id uuid.UUID, cmd *TransitionCommand, actor domain.Actor, ip string) (*Result, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	window, err := s.bookingWindow(a, cmd.Trigger)
	if err != nil {
		return nil, err
	}
	if window != nil {
		cand := scheduling.Candidate{Start: window.Start, End: window.End}
		if err := s.ValidateSlot(ctx, a.PractitionerID, cand, scheduling.FlowBooking, &a.ID); err != nil {
			return nil, err
		}
	}

	entry, err := a.ApplyTransition(appointment.TransitionInput{
		Trigger:  cmd.Trigger,
		Actor:    actor,
		Note:     cmd.Note,
		Feedback: cmd.Feedback,
		Window:   window,
		Now:      s.now(),
	})
	if err != nil {
		return nil, err
	}

	commit := func(ctx context.Context) error {
		return s.appts.CommitWithHistory(ctx, a, entry)
	}
	if window != nil && a.Status.OccupiesCalendar() {
		err = s.withCalendarLock(ctx, a.PractitionerID, window.Start, commit)
	} else {
		err = commit(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.audit.LogAsync(ctx, AuditEntry{
		Actor: actor, Action: domain.ActionUpdate,
		ResourceType: "appointment", ResourceID: a.ID.String(), IPAddress: ip,
		Changes: fmt.Sprintf(`{"status":%q,"trigger":%q}`, a.Status, cmd.Trigger),
	})

	return &Result{Appointment: a, History: entry}, nil
}

func (s *SchedulingService) GetAppointment(ctx context.Context, id uuid.UUID, actor domain.Actor, ip string) (*appointment.Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := scopeToPatient(a, actor); err != nil {
		return nil, err
	}

	s.audit.LogAsync(ctx, AuditEntry{
		Actor: actor, Action: domain.ActionRead,
		ResourceType: "appointment", ResourceID: id.String(), IPAddress: ip,
	})

	return a, nil
}

// History returns the appointment's full transition record, newest first.
func (s *SchedulingService) History(ctx context.Context, id uuid.UUID, actor domain.Actor) ([]*appointment.StatusHistoryEntry, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := scopeToPatient(a, actor); err != nil {
		return nil, err
	}

	entries, err := s.appts.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading status history: %w", err)
	}
	return entries, nil
}

func (s *SchedulingService) ListAppointments(ctx context.Context, q *appointment.ListQuery, actor domain.Actor) (*appointment.PagedAppointments, error) {
	// Patients can only see their own appointments.
	if actor.Role == domain.RolePatient {
		if actor.PatientID == nil {
			return nil, appointment.ErrForbidden
		}
		q.PatientID = actor.PatientID
	}
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return s.appts.List(ctx, q)
}

// SetPractitionerNote updates the practitioner-only annotation. Allowed at
// any status; not a status transition and never patient-visible.
func (s *SchedulingService) SetPractitionerNote(ctx context.Context, id uuid.UUID, note string, actor domain.Actor, ip string) error {
	if !actor.Role.IsClinicSide() {
		return appointment.ErrForbidden
	}
	if _, err := s.appts.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.appts.UpdatePractitionerNote(ctx, id, note); err != nil {
		return fmt.Errorf("updating practitioner note: %w", err)
	}

	s.audit.LogAsync(ctx, AuditEntry{
		Actor: actor, Action: domain.ActionUpdate,
		ResourceType: "appointment", ResourceID: id.String(), IPAddress: ip,
		Changes: `{"field":"practitioner_note"}`,
	})
	return nil
}

// bookingWindow derives the window a trigger will commit, or nil for
// triggers that do not touch the calendar.
func (s *SchedulingService) bookingWindow(a *appointment.Appointment, trigger appointment.Trigger) (*appointment.TimeWindow, error) {
	switch trigger {
	case appointment.TriggerAcceptRequest:
		if a.RequestedStart == nil {
			return nil, &appointment.ValidationError{Field: "requestedStart", Reason: "appointment has no requested start to accept"}
		}
		// The original ask carries only a start; the clinic's default visit
		// length completes the window.
		return &appointment.TimeWindow{
			Start: *a.RequestedStart,
			End:   a.RequestedStart.Add(s.cfg.DefaultVisitDuration),
		}, nil
	case appointment.TriggerAcceptProposal:
		if a.ProposedStart == nil || a.ProposedEnd == nil {
			return nil, &appointment.ValidationError{Field: "proposed", Reason: "no proposed window to accept"}
		}
		return &appointment.TimeWindow{Start: *a.ProposedStart, End: *a.ProposedEnd}, nil
	}
	return nil, nil
}

func (s *SchedulingService) loadLedger(ctx context.Context, practitionerID uuid.UUID, day time.Time, excludeID *uuid.UUID) ([]scheduling.Booking, error) {
	from, to := scheduling.DayBounds(day)
	occupying, err := s.appts.ListOccupying(ctx, practitionerID, from, to, excludeID)
	if err != nil {
		return nil, fmt.Errorf("loading booking ledger: %w", err)
	}

	ledger := make([]scheduling.Booking, 0, len(occupying))
	for _, b := range occupying {
		w, ok := b.BookedWindow()
		if !ok {
			continue
		}
		ledger = append(ledger, scheduling.Booking{AppointmentID: b.ID, Start: w.Start, End: w.End})
	}
	return ledger, nil
}

func (s *SchedulingService) withCalendarLock(ctx context.Context, practitionerID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	err := s.locker.WithCalendarLock(ctx, practitionerID, day, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		// Someone else is committing into this calendar right now. Surface
		// it the same way as a constraint loss: re-validate and retry.
		return appointment.ErrConcurrentModification
	}
	return err
}

func scopeToPatient(a *appointment.Appointment, actor domain.Actor) error {
	if actor.Role != domain.RolePatient {
		return nil
	}
	if actor.PatientID == nil || *actor.PatientID != a.PatientID {
		return appointment.ErrForbidden
	}
	return nil
}
