package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Window is one recurring weekly working range: at most one per
// (practitioner, weekday). Times are wall-clock "15:04" strings in the
// practitioner's local zone; the slot validator resolves them against
// concrete dates.
type Window struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	PractitionerID uuid.UUID `gorm:"column:practitioner_id;type:uuid;not null;uniqueIndex:idx_availability_practitioner_weekday"`
	Weekday        int       `gorm:"column:weekday;not null;uniqueIndex:idx_availability_practitioner_weekday"` // time.Weekday: 0=Sunday

	StartTime string `gorm:"column:start_time;type:varchar(5);not null"`
	EndTime   string `gorm:"column:end_time;type:varchar(5);not null"`
	Enabled   bool   `gorm:"column:enabled;not null;default:false"`
}

func (Window) TableName() string {
	return "clinical.availability_windows"
}

const clockLayout = "15:04"

// Validate enforces the window invariants: a known weekday, parseable
// wall-clock bounds, and end after start whenever the day is enabled.
// Disabled days may be stored with empty bounds.
func (w *Window) Validate() error {
	if w.Weekday < int(time.Sunday) || w.Weekday > int(time.Saturday) {
		return fmt.Errorf("%w: weekday %d", ErrInvalidWindow, w.Weekday)
	}
	if !w.Enabled && w.StartTime == "" && w.EndTime == "" {
		return nil
	}

	start, err := time.Parse(clockLayout, w.StartTime)
	if err != nil {
		return fmt.Errorf("%w: start time %q", ErrInvalidWindow, w.StartTime)
	}
	end, err := time.Parse(clockLayout, w.EndTime)
	if err != nil {
		return fmt.Errorf("%w: end time %q", ErrInvalidWindow, w.EndTime)
	}
	if w.Enabled && !end.After(start) {
		return fmt.Errorf("%w: end %s must be after start %s", ErrInvalidWindow, w.EndTime, w.StartTime)
	}
	return nil
}

// Bounds returns the window's bounds as minutes since midnight. Callers must
// have validated the window first; unparseable bounds come back as (0, 0).
func (w *Window) Bounds() (startMin, endMin int) {
	return clockMinutes(w.StartTime), clockMinutes(w.EndTime)
}

func clockMinutes(hm string) int {
	t, err := time.Parse(clockLayout, hm)
	if err != nil {
		return 0
	}
	return t.Hour()*60 + t.Minute()
}
