package service

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dentalops/dentalflow/internal/domain"
	"github.com/dentalops/dentalflow/internal/domain/appointment"
	"github.com/dentalops/dentalflow/internal/domain/availability"
	redisclient "github.com/dentalops/dentalflow/internal/redis"
	"github.com/dentalops/dentalflow/internal/scheduling"
)

// fixedNow is a Monday morning; all test slots land on the same day.
var fixedNow = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

type fakeApptRepo struct {
	appts     map[uuid.UUID]*appointment.Appointment
	history   map[uuid.UUID][]*appointment.StatusHistoryEntry
	createErr error
	commitErr error
}

func newFakeApptRepo() *fakeApptRepo {
	return &fakeApptRepo{
		appts:   make(map[uuid.UUID]*appointment.Appointment),
		history: make(map[uuid.UUID][]*appointment.StatusHistoryEntry),
	}
}

func (r *fakeApptRepo) Create(_ context.Context, a *appointment.Appointment, entry *appointment.StatusHistoryEntry) error {
	if r.createErr != nil {
		return r.createErr
	}
	cp := *a
	r.appts[a.ID] = &cp
	r.history[a.ID] = append(r.history[a.ID], entry)
	return nil
}

func (r *fakeApptRepo) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeApptRepo) List(_ context.Context, q *appointment.ListQuery) (*appointment.PagedAppointments, error) {
	var out []*appointment.Appointment
	for _, a := range r.appts {
		if q.PatientID != nil && a.PatientID != *q.PatientID {
			continue
		}
		if q.PractitionerID != nil && a.PractitionerID != *q.PractitionerID {
			continue
		}
		if q.Status != nil && a.Status != *q.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return &appointment.PagedAppointments{
		Appointments: out,
		TotalCount:   int64(len(out)),
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   1,
	}, nil
}

func (r *fakeApptRepo) ListOccupying(_ context.Context, practitionerID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) ([]*appointment.Appointment, error) {
	var out []*appointment.Appointment
	for _, a := range r.appts {
		if a.PractitionerID != practitionerID || !a.Status.OccupiesCalendar() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		w, ok := a.BookedWindow()
		if !ok || !w.Start.Before(to) || !w.End.After(from) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeApptRepo) CommitWithHistory(_ context.Context, a *appointment.Appointment, entry *appointment.StatusHistoryEntry) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	stored, ok := r.appts[a.ID]
	if !ok {
		return appointment.ErrConcurrentModification
	}
	if stored.Version != a.Version {
		return appointment.ErrConcurrentModification
	}
	cp := *a
	cp.Version++
	r.appts[a.ID] = &cp
	r.history[a.ID] = append(r.history[a.ID], entry)
	a.Version++
	return nil
}

func (r *fakeApptRepo) UpdatePractitionerNote(_ context.Context, id uuid.UUID, note string) error {
	a, ok := r.appts[id]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	a.PractitionerNote = note
	return nil
}

func (r *fakeApptRepo) ListHistory(_ context.Context, appointmentID uuid.UUID) ([]*appointment.StatusHistoryEntry, error) {
	entries := append([]*appointment.StatusHistoryEntry(nil), r.history[appointmentID]...)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ChangedAt.After(entries[j].ChangedAt)
	})
	return entries, nil
}

type fakeAvailRepo struct {
	windows map[uuid.UUID][]*availability.Window
}

func newFakeAvailRepo() *fakeAvailRepo {
	return &fakeAvailRepo{windows: make(map[uuid.UUID][]*availability.Window)}
}

func (r *fakeAvailRepo) GetByPractitioner(_ context.Context, practitionerID uuid.UUID) ([]*availability.Window, error) {
	return r.windows[practitionerID], nil
}

func (r *fakeAvailRepo) Replace(_ context.Context, practitionerID uuid.UUID, windows []*availability.Window) error {
	r.windows[practitionerID] = windows
	return nil
}

type nopLocker struct{}

func (nopLocker) WithCalendarLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type contendedLocker struct{}

func (contendedLocker) WithCalendarLock(context.Context, uuid.UUID, time.Time, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type nopAuditRepo struct{}

func (nopAuditRepo) Create(context.Context, *domain.AuditLog) error { return nil }

func testConfig() scheduling.Config {
	return scheduling.Config{
		MinWalkInDuration:     30 * time.Minute,
		MinRescheduleDuration: 60 * time.Minute,
		DefaultVisitDuration:  30 * time.Minute,
	}
}

func newTestService(t *testing.T) (*SchedulingService, *fakeApptRepo, *fakeAvailRepo) {
	t.Helper()
	appts := newFakeApptRepo()
	avail := newFakeAvailRepo()
	audit := NewAuditService(nopAuditRepo{}, zap.NewNop())
	t.Cleanup(audit.Shutdown)

	svc := NewSchedulingService(appts, avail, nopLocker{}, audit, testConfig(), zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc, appts, avail
}

func mondayWindow(practitionerID uuid.UUID) *availability.Window {
	return &availability.Window{
		PractitionerID: practitionerID,
		Weekday:        int(time.Monday),
		StartTime:      "09:00",
		EndTime:        "17:00",
		Enabled:        true,
	}
}

func at(hour, min int) time.Time {
	return time.Date(2026, 1, 5, hour, min, 0, 0, time.UTC)
}

func staffActor() domain.Actor {
	return domain.Actor{ID: uuid.New(), Role: domain.RoleStaff}
}

func patientActor(patientID uuid.UUID) domain.Actor {
	return domain.Actor{ID: uuid.New(), Role: domain.RolePatient, PatientID: &patientID}
}

func TestCreateWalkInBooksAndRecordsHistory(t *testing.T) {
	svc, appts, avail := newTestService(t)
	practitionerID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	res, err := svc.CreateWalkIn(context.Background(), &CreateWalkInCommand{
		PatientID:      uuid.New(),
		PractitionerID: practitionerID,
		Window:         appointment.TimeWindow{Start: at(10, 0), End: at(10, 30)},
		Concern:        "chipped molar",
	}, staffActor(), "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusBooked, res.Appointment.Status)
	require.NotNil(t, res.Appointment.BookedStart)
	assert.Equal(t, at(10, 0), *res.Appointment.BookedStart)

	entries, err := svc.History(context.Background(), res.Appointment.ID, staffActor())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, appointment.StatusBooked, entries[0].Status)
	assert.Len(t, appts.history[res.Appointment.ID], 1)
}

func TestCreateWalkInRejectsConflictingSlot(t *testing.T) {
	svc, _, avail := newTestService(t)
	practitionerID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	_, err := svc.CreateWalkIn(context.Background(), &CreateWalkInCommand{
		PatientID:      uuid.New(),
		PractitionerID: practitionerID,
		Window:         appointment.TimeWindow{Start: at(10, 0), End: at(11, 0)},
		Concern:        "cleaning",
	}, staffActor(), "")
	require.NoError(t, err)

	_, err = svc.CreateWalkIn(context.Background(), &CreateWalkInCommand{
		PatientID:      uuid.New(),
		PractitionerID: practitionerID,
		Window:         appointment.TimeWindow{Start: at(10, 30), End: at(11, 30)},
		Concern:        "cleaning",
	}, staffActor(), "")

	var rejection *scheduling.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, scheduling.RuleOverlap, rejection.Rule)
	assert.Equal(t, "conflicts with existing appointment", rejection.Reason)
}

func TestCreateWalkInMapsLockContentionToConcurrentModification(t *testing.T) {
	svc, _, avail := newTestService(t)
	svc.locker = contendedLocker{}
	practitionerID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	_, err := svc.CreateWalkIn(context.Background(), &CreateWalkInCommand{
		PatientID:      uuid.New(),
		PractitionerID: practitionerID,
		Window:         appointment.TimeWindow{Start: at(10, 0), End: at(10, 30)},
		Concern:        "cleaning",
	}, staffActor(), "")

	assert.ErrorIs(t, err, appointment.ErrConcurrentModification)
}

func TestCreateRequestRejectsPastStart(t *testing.T) {
	svc, _, _ := newTestService(t)
	patientID := uuid.New()

	_, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: uuid.New(),
		RequestedStart: fixedNow.Add(-time.Hour),
		Concern:        "toothache",
	}, patientActor(patientID), "")

	assert.ErrorIs(t, err, appointment.ErrScheduledInPast)
}

func TestRequestRescheduleProposesNewTime(t *testing.T) {
	svc, _, avail := newTestService(t)
	practitionerID := uuid.New()
	patientID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)

	res, err := svc.RequestReschedule(context.Background(), created.Appointment.ID,
		scheduling.Candidate{Start: at(14, 0), End: at(15, 0)}, staffActor(), "")
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusProposed, res.Appointment.Status)
	require.NotNil(t, res.Appointment.ProposedStart)
	assert.Equal(t, at(14, 0), *res.Appointment.ProposedStart)
}

func TestRequestRescheduleEnforcesRescheduleMinimum(t *testing.T) {
	svc, _, avail := newTestService(t)
	practitionerID := uuid.New()
	patientID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)

	// 30 minutes passes the walk-in minimum but not the reschedule one.
	_, err = svc.RequestReschedule(context.Background(), created.Appointment.ID,
		scheduling.Candidate{Start: at(14, 0), End: at(14, 30)}, staffActor(), "")

	var rejection *scheduling.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, scheduling.RuleMinDuration, rejection.Rule)
}

func TestAcceptProposalBooksProposedWindow(t *testing.T) {
	svc, _, avail := newTestService(t)
	practitionerID := uuid.New()
	patientID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)

	_, err = svc.RequestReschedule(context.Background(), created.Appointment.ID,
		scheduling.Candidate{Start: at(14, 0), End: at(15, 0)}, staffActor(), "")
	require.NoError(t, err)

	res, err := svc.ApplyTransition(context.Background(), created.Appointment.ID,
		&TransitionCommand{Trigger: appointment.TriggerAcceptProposal}, patientActor(patientID), "")
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusBooked, res.Appointment.Status)
	require.NotNil(t, res.Appointment.BookedStart)
	assert.Equal(t, at(14, 0), *res.Appointment.BookedStart)
	assert.Equal(t, at(15, 0), *res.Appointment.BookedEnd)
}

func TestAcceptRequestUsesDefaultVisitDuration(t *testing.T) {
	svc, _, avail := newTestService(t)
	practitionerID := uuid.New()
	patientID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)

	res, err := svc.ApplyTransition(context.Background(), created.Appointment.ID,
		&TransitionCommand{Trigger: appointment.TriggerAcceptRequest}, patientActor(patientID), "")
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusBooked, res.Appointment.Status)
	assert.Equal(t, at(10, 0), *res.Appointment.BookedStart)
	assert.Equal(t, at(10, 30), *res.Appointment.BookedEnd)
}

func TestAcceptProposalRevalidatesAgainstFreshLedger(t *testing.T) {
	svc, _, avail := newTestService(t)
	practitionerID := uuid.New()
	patientID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)

	_, err = svc.RequestReschedule(context.Background(), created.Appointment.ID,
		scheduling.Candidate{Start: at(14, 0), End: at(15, 0)}, staffActor(), "")
	require.NoError(t, err)

	// A walk-in takes the proposed slot before the patient accepts.
	_, err = svc.CreateWalkIn(context.Background(), &CreateWalkInCommand{
		PatientID:      uuid.New(),
		PractitionerID: practitionerID,
		Window:         appointment.TimeWindow{Start: at(14, 0), End: at(14, 30)},
		Concern:        "emergency",
	}, staffActor(), "")
	require.NoError(t, err)

	_, err = svc.ApplyTransition(context.Background(), created.Appointment.ID,
		&TransitionCommand{Trigger: appointment.TriggerAcceptProposal}, patientActor(patientID), "")

	var rejection *scheduling.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, scheduling.RuleOverlap, rejection.Rule)
}

func TestCancelRequiresNote(t *testing.T) {
	svc, _, avail := newTestService(t)
	practitionerID := uuid.New()
	patientID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)

	_, err = svc.ApplyTransition(context.Background(), created.Appointment.ID,
		&TransitionCommand{Trigger: appointment.TriggerCancel}, staffActor(), "")

	var validation *appointment.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "note", validation.Field)
}

func TestApplyTransitionSurfacesCommitConflict(t *testing.T) {
	svc, appts, avail := newTestService(t)
	practitionerID := uuid.New()
	patientID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)

	appts.commitErr = appointment.ErrConcurrentModification

	_, err = svc.ApplyTransition(context.Background(), created.Appointment.ID,
		&TransitionCommand{Trigger: appointment.TriggerCancel, Note: "changed plans"}, staffActor(), "")

	assert.ErrorIs(t, err, appointment.ErrConcurrentModification)
}

func TestHistoryIsCompleteAndNewestFirst(t *testing.T) {
	svc, _, avail := newTestService(t)
	practitionerID := uuid.New()
	patientID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)
	id := created.Appointment.ID

	// Distinct timestamps per transition so the ordering is observable.
	step := 0
	svc.now = func() time.Time {
		step++
		return fixedNow.Add(time.Duration(step) * time.Minute)
	}

	_, err = svc.ApplyTransition(context.Background(), id,
		&TransitionCommand{Trigger: appointment.TriggerAcceptRequest}, patientActor(patientID), "")
	require.NoError(t, err)
	_, err = svc.ApplyTransition(context.Background(), id,
		&TransitionCommand{Trigger: appointment.TriggerMarkArrived}, staffActor(), "")
	require.NoError(t, err)

	entries, err := svc.History(context.Background(), id, staffActor())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, appointment.StatusArrived, entries[0].Status)
	assert.Equal(t, appointment.StatusBooked, entries[1].Status)
	assert.Equal(t, appointment.StatusRequested, entries[2].Status)
	assert.True(t, entries[0].ChangedAt.After(entries[1].ChangedAt))
	assert.True(t, entries[1].ChangedAt.After(entries[2].ChangedAt))
}

func TestGetAppointmentScopesPatients(t *testing.T) {
	svc, _, _ := newTestService(t)
	patientID := uuid.New()

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: uuid.New(),
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)

	_, err = svc.GetAppointment(context.Background(), created.Appointment.ID, patientActor(uuid.New()), "")
	assert.ErrorIs(t, err, appointment.ErrForbidden)

	got, err := svc.GetAppointment(context.Background(), created.Appointment.ID, patientActor(patientID), "")
	require.NoError(t, err)
	assert.Equal(t, created.Appointment.ID, got.ID)
}

func TestListAppointmentsForcesPatientScope(t *testing.T) {
	svc, _, _ := newTestService(t)
	ownID := uuid.New()
	otherID := uuid.New()

	for _, pid := range []uuid.UUID{ownID, otherID} {
		_, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
			PatientID:      pid,
			PractitionerID: uuid.New(),
			RequestedStart: at(10, 0),
			Concern:        "toothache",
		}, patientActor(pid), "")
		require.NoError(t, err)
	}

	page, err := svc.ListAppointments(context.Background(), &appointment.ListQuery{}, patientActor(ownID))
	require.NoError(t, err)
	require.Len(t, page.Appointments, 1)
	assert.Equal(t, ownID, page.Appointments[0].PatientID)
}

func TestSetPractitionerNoteClinicOnly(t *testing.T) {
	svc, appts, _ := newTestService(t)
	patientID := uuid.New()

	created, err := svc.CreateRequest(context.Background(), &CreateRequestCommand{
		PatientID:      patientID,
		PractitionerID: uuid.New(),
		RequestedStart: at(10, 0),
		Concern:        "toothache",
	}, patientActor(patientID), "")
	require.NoError(t, err)

	err = svc.SetPractitionerNote(context.Background(), created.Appointment.ID, "sensitive molar", patientActor(patientID), "")
	assert.ErrorIs(t, err, appointment.ErrForbidden)

	err = svc.SetPractitionerNote(context.Background(), created.Appointment.ID, "sensitive molar", staffActor(), "")
	require.NoError(t, err)
	assert.Equal(t, "sensitive molar", appts.appts[created.Appointment.ID].PractitionerNote)
}

func TestValidateSlotIsSideEffectFree(t *testing.T) {
	svc, appts, avail := newTestService(t)
	practitionerID := uuid.New()
	avail.windows[practitionerID] = []*availability.Window{mondayWindow(practitionerID)}

	cand := scheduling.Candidate{Start: at(10, 0), End: at(10, 30)}
	require.NoError(t, svc.ValidateSlot(context.Background(), practitionerID, cand, scheduling.FlowWalkIn, nil))
	require.NoError(t, svc.ValidateSlot(context.Background(), practitionerID, cand, scheduling.FlowWalkIn, nil))
	assert.Empty(t, appts.appts)
}
