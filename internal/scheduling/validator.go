// Package scheduling holds the pure slot-validation rules shared by every
// booking flow. The reschedule and walk-in paths call the same function with
// different minimum-duration configuration, so the rules cannot drift apart
// between call sites.
package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dentalops/dentalflow/internal/domain/availability"
)

// Flow names the call site so the right minimum duration applies.
type Flow string

const (
	// FlowWalkIn covers direct bookings made at the desk.
	FlowWalkIn Flow = "walk_in"
	// FlowReschedule covers practitioner counter-offers on existing
	// appointments, which the clinic wants to be full-length visits.
	FlowReschedule Flow = "reschedule"
	// FlowBooking covers committing a window that was already shaped by an
	// earlier flow (accepting a request or a proposal); it reuses the
	// walk-in minimum.
	FlowBooking Flow = "booking"
)

type Config struct {
	MinWalkInDuration     time.Duration
	MinRescheduleDuration time.Duration
	DefaultVisitDuration  time.Duration
}

func (c Config) MinDuration(f Flow) time.Duration {
	if f == FlowReschedule {
		return c.MinRescheduleDuration
	}
	return c.MinWalkInDuration
}

// Candidate is the slot under validation, as concrete instants in the
// practitioner's local zone.
type Candidate struct {
	Start time.Time
	End   time.Time
}

// Booking is the ledger's view of an existing committed appointment.
type Booking struct {
	AppointmentID uuid.UUID
	Start         time.Time
	End           time.Time
}

// Validation rule names, used as metric labels.
const (
	RuleEndOrder     = "end_order"
	RuleMinDuration  = "min_duration"
	RuleNoWindow     = "no_window"
	RuleOutsideHours = "outside_hours"
	RuleOverlap      = "overlap"
	RulePast         = "past"
)

// RejectionError carries a human-readable reason that callers surface
// verbatim, plus the rule name for metrics.
type RejectionError struct {
	Rule   string
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

// ValidateSlot decides whether the candidate is legal. Rules apply in fixed
// order and the first failure wins. The function is pure: it reads nothing
// beyond its inputs and mutates none of them, so identical inputs always
// produce identical results.
//
// Working-hours comparison happens in wall-clock minutes of the candidate's
// weekday; the overlap and not-in-the-past rules compare concrete instants.
func ValidateSlot(c Candidate, minDuration time.Duration, windows []*availability.Window, ledger []Booking, excludeID *uuid.UUID, now time.Time) error {
	if !c.End.After(c.Start) {
		return &RejectionError{Rule: RuleEndOrder, Reason: "end time must be after start time"}
	}

	if c.End.Sub(c.Start) < minDuration {
		return &RejectionError{
			Rule:   RuleMinDuration,
			Reason: fmt.Sprintf("duration below minimum of %d minutes", int(minDuration.Minutes())),
		}
	}

	window := windowFor(windows, c.Start.Weekday())
	if window == nil || !window.Enabled {
		return &RejectionError{Rule: RuleNoWindow, Reason: "no availability that day"}
	}
	startMin := c.Start.Hour()*60 + c.Start.Minute()
	endMin := startMin + int(c.End.Sub(c.Start).Minutes())
	winStart, winEnd := window.Bounds()
	if startMin < winStart || endMin > winEnd {
		return &RejectionError{
			Rule:   RuleOutsideHours,
			Reason: fmt.Sprintf("outside working hours (%s to %s)", window.StartTime, window.EndTime),
		}
	}

	for _, b := range ledger {
		if excludeID != nil && b.AppointmentID == *excludeID {
			continue
		}
		// Half-open intervals: touching endpoints do not conflict.
		if c.Start.Before(b.End) && c.End.After(b.Start) {
			return &RejectionError{Rule: RuleOverlap, Reason: "conflicts with existing appointment"}
		}
	}

	if c.Start.Before(now) {
		return &RejectionError{Rule: RulePast, Reason: "cannot schedule in the past"}
	}

	return nil
}

func windowFor(windows []*availability.Window, day time.Weekday) *availability.Window {
	for _, w := range windows {
		if w.Weekday == int(day) {
			return w
		}
	}
	return nil
}

// DayBounds returns the calendar day containing t as a half-open range, used
// to scope ledger loads.
func DayBounds(t time.Time) (from, to time.Time) {
	from = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return from, from.Add(24 * time.Hour)
}
