package v1

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dentalops/dentalflow/internal/domain"
	"github.com/dentalops/dentalflow/internal/domain/appointment"
	"github.com/dentalops/dentalflow/internal/scheduling"
	"github.com/dentalops/dentalflow/internal/service"
	"github.com/dentalops/dentalflow/pkg/metrics"
)

type SchedulingHandler struct {
	svc       *service.SchedulingService
	collector *metrics.Collector
	log       *zap.Logger
}

func NewSchedulingHandler(svc *service.SchedulingService, collector *metrics.Collector, log *zap.Logger) *SchedulingHandler {
	return &SchedulingHandler{svc: svc, collector: collector, log: log}
}

type appointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	Status         string     `json:"status"`
	RequestedStart *time.Time `json:"requested_start,omitempty"`
	ProposedStart  *time.Time `json:"proposed_start,omitempty"`
	ProposedEnd    *time.Time `json:"proposed_end,omitempty"`
	BookedStart    *time.Time `json:"booked_start,omitempty"`
	BookedEnd      *time.Time `json:"booked_end,omitempty"`
	Concern        string     `json:"concern"`

	// Omitted for patient callers.
	PractitionerNote string `json:"practitioner_note,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment, actor domain.Actor) appointmentResponse {
	resp := appointmentResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		PractitionerID: a.PractitionerID,
		Status:         string(a.Status),
		RequestedStart: a.RequestedStart,
		ProposedStart:  a.ProposedStart,
		ProposedEnd:    a.ProposedEnd,
		BookedStart:    a.BookedStart,
		BookedEnd:      a.BookedEnd,
		Concern:        a.Concern,
		Version:        a.Version,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if actor.Role.IsClinicSide() {
		resp.PractitionerNote = a.PractitionerNote
	}
	return resp
}

type historyEntryResponse struct {
	Status        string    `json:"status"`
	ChangedAt     time.Time `json:"changed_at"`
	ChangedByRole string    `json:"changed_by_role"`
	Note          string    `json:"note,omitempty"`
	Feedback      string    `json:"feedback,omitempty"`
}

// toHistoryResponse keeps internal rationale internal: patients see the note
// only where it is the mandated explanation, on rejections and cancellations.
func toHistoryResponse(entries []*appointment.StatusHistoryEntry, actor domain.Actor) []historyEntryResponse {
	out := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		r := historyEntryResponse{
			Status:        string(e.Status),
			ChangedAt:     e.ChangedAt,
			ChangedByRole: string(e.ChangedByRole),
			Feedback:      e.Feedback,
		}
		if actor.Role.IsClinicSide() || e.Status == appointment.StatusCancelled || e.Status == appointment.StatusRejected {
			r.Note = e.Note
		}
		out = append(out, r)
	}
	return out
}

type resultResponse struct {
	Appointment appointmentResponse  `json:"appointment"`
	History     historyEntryResponse `json:"history"`
}

func (h *SchedulingHandler) toResultResponse(res *service.Result, actor domain.Actor) resultResponse {
	return resultResponse{
		Appointment: toAppointmentResponse(res.Appointment, actor),
		History:     toHistoryResponse([]*appointment.StatusHistoryEntry{res.History}, actor)[0],
	}
}

// observeError feeds the scheduling failure counters before the error is
// translated for the wire.
func (h *SchedulingHandler) observeError(err error) {
	var rejection *scheduling.RejectionError
	if errors.As(err, &rejection) {
		h.collector.SlotRejectionsTotal.WithLabelValues(rejection.Rule).Inc()
		return
	}
	if errors.Is(err, appointment.ErrConcurrentModification) {
		h.collector.CommitConflicts.Inc()
	}
}

type validateSlotRequest struct {
	PractitionerID uuid.UUID  `json:"practitioner_id" binding:"required"`
	Start          time.Time  `json:"start" binding:"required"`
	End            time.Time  `json:"end" binding:"required"`
	Flow           string     `json:"flow"`
	ExcludeID      *uuid.UUID `json:"exclude_appointment_id"`
}

type slotVerdictResponse struct {
	Valid  bool   `json:"valid"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ValidateSlot runs the slot rules without committing anything, for live UI
// feedback. A rejected slot is a 200 with a verdict, not an error.
func (h *SchedulingHandler) ValidateSlot(c *gin.Context) {
	var req validateSlotRequest
	if !bindJSON(c, &req) {
		return
	}

	flow := scheduling.Flow(req.Flow)
	switch flow {
	case scheduling.FlowWalkIn, scheduling.FlowReschedule, scheduling.FlowBooking:
	case "":
		flow = scheduling.FlowBooking
	default:
		respondError(c, 400, "unknown flow: "+req.Flow)
		return
	}

	cand := scheduling.Candidate{Start: req.Start, End: req.End}
	err := h.svc.ValidateSlot(c.Request.Context(), req.PractitionerID, cand, flow, req.ExcludeID)
	if err == nil {
		respondOK(c, slotVerdictResponse{Valid: true})
		return
	}

	var rejection *scheduling.RejectionError
	if errors.As(err, &rejection) {
		h.collector.SlotRejectionsTotal.WithLabelValues(rejection.Rule).Inc()
		respondOK(c, slotVerdictResponse{Valid: false, Rule: rejection.Rule, Reason: rejection.Reason})
		return
	}

	respondServiceError(c, err)
}

type createRequestRequest struct {
	PatientID      uuid.UUID `json:"patient_id" binding:"required"`
	PractitionerID uuid.UUID `json:"practitioner_id" binding:"required"`
	RequestedStart time.Time `json:"requested_start" binding:"required"`
	Concern        string    `json:"concern" binding:"required"`
}

func (h *SchedulingHandler) CreateRequest(c *gin.Context) {
	var req createRequestRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := actorFrom(c)
	res, err := h.svc.CreateRequest(c.Request.Context(), &service.CreateRequestCommand{
		PatientID:      req.PatientID,
		PractitionerID: req.PractitionerID,
		RequestedStart: req.RequestedStart,
		Concern:        req.Concern,
	}, actor, c.ClientIP())
	if err != nil {
		h.observeError(err)
		respondServiceError(c, err)
		return
	}

	h.collector.AppointmentsTotal.WithLabelValues("request").Inc()
	respondCreated(c, h.toResultResponse(res, actor))
}

type createWalkInRequest struct {
	PatientID      uuid.UUID `json:"patient_id" binding:"required"`
	PractitionerID uuid.UUID `json:"practitioner_id" binding:"required"`
	Start          time.Time `json:"start" binding:"required"`
	End            time.Time `json:"end" binding:"required"`
	Concern        string    `json:"concern" binding:"required"`
}

func (h *SchedulingHandler) CreateWalkIn(c *gin.Context) {
	var req createWalkInRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := actorFrom(c)
	res, err := h.svc.CreateWalkIn(c.Request.Context(), &service.CreateWalkInCommand{
		PatientID:      req.PatientID,
		PractitionerID: req.PractitionerID,
		Window:         appointment.TimeWindow{Start: req.Start, End: req.End},
		Concern:        req.Concern,
	}, actor, c.ClientIP())
	if err != nil {
		h.observeError(err)
		respondServiceError(c, err)
		return
	}

	h.collector.AppointmentsTotal.WithLabelValues("walk_in").Inc()
	respondCreated(c, h.toResultResponse(res, actor))
}

type rescheduleRequest struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

func (h *SchedulingHandler) Reschedule(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req rescheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := actorFrom(c)
	cand := scheduling.Candidate{Start: req.Start, End: req.End}
	res, err := h.svc.RequestReschedule(c.Request.Context(), id, cand, actor, c.ClientIP())
	if err != nil {
		h.observeError(err)
		respondServiceError(c, err)
		return
	}

	h.collector.TransitionsTotal.
		WithLabelValues(string(appointment.TriggerProposeTime), string(res.Appointment.Status)).Inc()
	respondOK(c, h.toResultResponse(res, actor))
}

type transitionRequest struct {
	Trigger  string `json:"trigger" binding:"required"`
	Note     string `json:"note"`
	Feedback string `json:"feedback"`
}

func (h *SchedulingHandler) Transition(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if !bindJSON(c, &req) {
		return
	}

	trigger, known := appointment.ParseTrigger(req.Trigger)
	if !known {
		respondError(c, 400, "unknown trigger: "+req.Trigger)
		return
	}

	actor := actorFrom(c)
	res, err := h.svc.ApplyTransition(c.Request.Context(), id, &service.TransitionCommand{
		Trigger:  trigger,
		Note:     req.Note,
		Feedback: req.Feedback,
	}, actor, c.ClientIP())
	if err != nil {
		h.observeError(err)
		respondServiceError(c, err)
		return
	}

	h.collector.TransitionsTotal.
		WithLabelValues(string(trigger), string(res.Appointment.Status)).Inc()
	respondOK(c, h.toResultResponse(res, actor))
}

func (h *SchedulingHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	actor := actorFrom(c)
	a, err := h.svc.GetAppointment(c.Request.Context(), id, actor, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, toAppointmentResponse(a, actor))
}

func (h *SchedulingHandler) History(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	actor := actorFrom(c)
	entries, err := h.svc.History(c.Request.Context(), id, actor)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, toHistoryResponse(entries, actor))
}

type pagedAppointmentsResponse struct {
	Appointments []appointmentResponse `json:"appointments"`
	TotalCount   int64                 `json:"total_count"`
	Page         int                   `json:"page"`
	PageSize     int                   `json:"page_size"`
	TotalPages   int                   `json:"total_pages"`
}

func (h *SchedulingHandler) List(c *gin.Context) {
	q := &appointment.ListQuery{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 20),
	}

	if raw := c.Query("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, 400, "invalid patient_id")
			return
		}
		q.PatientID = &id
	}
	if raw := c.Query("practitioner_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, 400, "invalid practitioner_id")
			return
		}
		q.PractitionerID = &id
	}
	if raw := c.Query("status"); raw != "" {
		st := appointment.Status(raw)
		q.Status = &st
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, 400, "invalid from: must be RFC 3339")
			return
		}
		q.DateFrom = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, 400, "invalid to: must be RFC 3339")
			return
		}
		q.DateTo = &t
	}

	actor := actorFrom(c)
	page, err := h.svc.ListAppointments(c.Request.Context(), q, actor)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := pagedAppointmentsResponse{
		Appointments: make([]appointmentResponse, 0, len(page.Appointments)),
		TotalCount:   page.TotalCount,
		Page:         page.Page,
		PageSize:     page.PageSize,
		TotalPages:   page.TotalPages,
	}
	for _, a := range page.Appointments {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(a, actor))
	}
	respondOK(c, resp)
}

type noteRequest struct {
	Note string `json:"note" binding:"required"`
}

func (h *SchedulingHandler) SetNote(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req noteRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := actorFrom(c)
	if err := h.svc.SetPractitionerNote(c.Request.Context(), id, req.Note, actor, c.ClientIP()); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"updated": true})
}
