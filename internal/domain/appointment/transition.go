package appointment

import (
	"strings"
	"time"

	"github.com/dentalops/dentalflow/internal/domain"
)

type Trigger string

const (
	TriggerProposeTime     Trigger = "propose_time"
	TriggerAcceptRequest   Trigger = "accept_request"
	TriggerAcceptProposal  Trigger = "accept_proposal"
	TriggerDeclineProposal Trigger = "decline_proposal"
	TriggerRejectRequest   Trigger = "reject_request"
	TriggerMarkArrived     Trigger = "mark_arrived"
	TriggerMarkOngoing     Trigger = "mark_ongoing"
	TriggerMarkCompleted   Trigger = "mark_completed"
	TriggerCancel          Trigger = "cancel"
)

func ParseTrigger(s string) (Trigger, bool) {
	t := Trigger(s)
	_, ok := transitions[t]
	return t, ok
}

// TransitionInput carries everything a transition may need. Window is the
// time range being committed or proposed, required only by the slot-bearing
// triggers; the orchestrator validates it against availability and the
// booking ledger before calling ApplyTransition.
type TransitionInput struct {
	Trigger  Trigger
	Actor    domain.Actor
	Note     string
	Feedback string
	Window   *TimeWindow
	Now      time.Time
}

type transitionRule struct {
	// from is nil for cancel, which is legal from every non-terminal state.
	from           map[Status]bool
	to             Status
	roles          map[domain.Role]bool
	patientOwned   bool
	requiresNote   bool
	requiresWindow bool
}

var (
	clinicRoles  = map[domain.Role]bool{domain.RoleAdmin: true, domain.RolePractitioner: true, domain.RoleStaff: true}
	practitioner = map[domain.Role]bool{domain.RoleAdmin: true, domain.RolePractitioner: true}
	patientOnly  = map[domain.Role]bool{domain.RolePatient: true}
	anyRole      = map[domain.Role]bool{domain.RoleAdmin: true, domain.RolePractitioner: true, domain.RoleStaff: true, domain.RolePatient: true}
)

// transitions is the single source of truth for the status lifecycle. Every
// action button in every client maps to exactly one trigger here; anything
// not in this table fails with InvalidTransitionError.
var transitions = map[Trigger]transitionRule{
	TriggerProposeTime: {
		from:           map[Status]bool{StatusRequested: true},
		to:             StatusProposed,
		roles:          clinicRoles,
		requiresWindow: true,
	},
	TriggerAcceptRequest: {
		from:           map[Status]bool{StatusRequested: true},
		to:             StatusBooked,
		roles:          patientOnly,
		patientOwned:   true,
		requiresWindow: true,
	},
	TriggerAcceptProposal: {
		from:         map[Status]bool{StatusProposed: true},
		to:           StatusBooked,
		roles:        patientOnly,
		patientOwned: true,
	},
	TriggerDeclineProposal: {
		from:         map[Status]bool{StatusProposed: true},
		to:           StatusRequested,
		roles:        patientOnly,
		patientOwned: true,
	},
	TriggerRejectRequest: {
		from:         map[Status]bool{StatusRequested: true},
		to:           StatusRejected,
		roles:        clinicRoles,
		requiresNote: true,
	},
	TriggerMarkArrived: {
		from:  map[Status]bool{StatusBooked: true},
		to:    StatusArrived,
		roles: clinicRoles,
	},
	TriggerMarkOngoing: {
		from:  map[Status]bool{StatusArrived: true},
		to:    StatusOngoing,
		roles: practitioner,
	},
	TriggerMarkCompleted: {
		from:  map[Status]bool{StatusOngoing: true},
		to:    StatusCompleted,
		roles: practitioner,
	},
	TriggerCancel: {
		from:         nil, // any non-terminal state
		to:           StatusCancelled,
		roles:        anyRole,
		requiresNote: true,
	},
}

// patientCancellable limits how far into the visit a patient can still cancel
// on their own; past arrival the clinic handles it.
var patientCancellable = map[Status]bool{
	StatusRequested: true,
	StatusProposed:  true,
	StatusBooked:    true,
}

// ApplyTransition moves the appointment through the status lifecycle. On
// success it mutates the appointment and returns the history entry that must
// be persisted in the same transaction as the status write.
func (a *Appointment) ApplyTransition(in TransitionInput) (*StatusHistoryEntry, error) {
	rule, ok := transitions[in.Trigger]
	if !ok {
		return nil, &InvalidTransitionError{From: a.Status, Trigger: in.Trigger}
	}

	// Terminal states admit nothing, cancel included.
	if a.Status.IsTerminal() {
		return nil, &InvalidTransitionError{From: a.Status, Trigger: in.Trigger}
	}
	if rule.from != nil && !rule.from[a.Status] {
		return nil, &InvalidTransitionError{From: a.Status, Trigger: in.Trigger}
	}

	if !rule.roles[in.Actor.Role] {
		return nil, ErrForbidden
	}
	if rule.patientOwned {
		if in.Actor.PatientID == nil || *in.Actor.PatientID != a.PatientID {
			return nil, ErrForbidden
		}
	}
	if in.Trigger == TriggerCancel && in.Actor.Role == domain.RolePatient {
		if in.Actor.PatientID == nil || *in.Actor.PatientID != a.PatientID {
			return nil, ErrForbidden
		}
		if !patientCancellable[a.Status] {
			return nil, &InvalidTransitionError{From: a.Status, Trigger: in.Trigger}
		}
	}

	if rule.requiresNote && strings.TrimSpace(in.Note) == "" {
		return nil, &ValidationError{Field: "note", Reason: "a note is required for " + string(in.Trigger)}
	}
	if rule.requiresWindow && (in.Window == nil || !in.Window.Valid()) {
		return nil, &ValidationError{Field: "window", Reason: "a valid time window is required for " + string(in.Trigger)}
	}

	switch in.Trigger {
	case TriggerProposeTime:
		start, end := in.Window.Start, in.Window.End
		a.ProposedStart = &start
		a.ProposedEnd = &end

	case TriggerAcceptRequest:
		// The booked start must be the patient's original ask, extended by
		// the clinic's default visit length.
		if a.RequestedStart == nil || !in.Window.Start.Equal(*a.RequestedStart) {
			return nil, &ValidationError{Field: "window", Reason: "accepted window must start at the requested time"}
		}
		start, end := in.Window.Start, in.Window.End
		a.BookedStart = &start
		a.BookedEnd = &end

	case TriggerAcceptProposal:
		if a.ProposedStart == nil || a.ProposedEnd == nil {
			return nil, &ValidationError{Field: "proposed", Reason: "no proposed window to accept"}
		}
		start, end := *a.ProposedStart, *a.ProposedEnd
		a.BookedStart = &start
		a.BookedEnd = &end

	case TriggerDeclineProposal:
		// Back to the queue for a new counter-offer; declining never ends
		// the appointment. A patient who is done cancels instead.
		a.ProposedStart = nil
		a.ProposedEnd = nil
	}

	a.Status = rule.to
	return a.historyEntry(in.Actor, in.Now, in.Note, in.Feedback), nil
}
