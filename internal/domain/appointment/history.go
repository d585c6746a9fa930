package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/dentalops/dentalflow/internal/domain"
)

// StatusHistoryEntry records one successful transition, including the initial
// creation. Entries are append-only: never mutated, never deleted. A status
// write without its history entry is a data-integrity violation, so both are
// committed in one transaction.
type StatusHistoryEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AppointmentID uuid.UUID `gorm:"column:appointment_id;type:uuid;not null;index"`

	Status    Status    `gorm:"column:status;type:varchar(20);not null"`
	ChangedAt time.Time `gorm:"column:changed_at;not null;index"`

	ChangedByID   uuid.UUID   `gorm:"column:changed_by_id;type:uuid;not null"`
	ChangedByRole domain.Role `gorm:"column:changed_by_role;type:varchar(30);not null"`

	// Note is the internal rationale. For rejections and cancellations it is
	// mandatory and becomes the patient-visible explanation.
	Note string `gorm:"column:note;type:text"`

	// Feedback is an optional patient-visible remark, e.g. after completion.
	Feedback string `gorm:"column:feedback;type:text"`
}

func (StatusHistoryEntry) TableName() string {
	return "clinical.appointment_status_history"
}
