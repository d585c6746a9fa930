package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RolePractitioner Role = "practitioner"
	RoleStaff        Role = "staff"
	RolePatient      Role = "patient"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RolePractitioner, RoleStaff, RolePatient:
		return true
	}
	return false
}

// IsClinicSide reports whether the role belongs to clinic personnel rather
// than a patient.
func (r Role) IsClinicSide() bool {
	return r == RoleAdmin || r == RolePractitioner || r == RoleStaff
}

// Actor identifies who is performing an operation. Identity is established by
// the external identity service; this core only consumes the claims.
type Actor struct {
	ID   uuid.UUID
	Role Role

	// PatientID is set for patient actors and links them to the patient
	// record they own. Used to scope reads and patient-side transitions.
	PatientID *uuid.UUID

	// PractitionerID is set for practitioner actors.
	PractitionerID *uuid.UUID
}

type AuditAction string

const (
	ActionCreate AuditAction = "create"
	ActionRead   AuditAction = "read"
	ActionUpdate AuditAction = "update"
)

type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OccurredAt time.Time `gorm:"autoCreateTime;index"`

	// Who
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	UserRole  Role      `gorm:"column:user_role;type:varchar(30);not null"`
	IPAddress string    `gorm:"column:ip_address;type:varchar(45)"` // Supports IPv6

	// What
	Action       AuditAction `gorm:"column:action;type:varchar(20);not null;index"`
	ResourceType string      `gorm:"column:resource_type;type:varchar(50);not null;index"`
	ResourceID   string      `gorm:"column:resource_id;type:varchar(50);index"`

	RequestID string `gorm:"column:request_id;type:varchar(50);index"`
	Changes   string `gorm:"column:changes;type:jsonb"`
}

func (AuditLog) TableName() string {
	return "audit.logs"
}
