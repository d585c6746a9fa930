package availability

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// GetByPractitioner returns the practitioner's full weekly window set.
	// Days with no row simply have no availability.
	GetByPractitioner(ctx context.Context, practitionerID uuid.UUID) ([]*Window, error)

	// Replace swaps the practitioner's weekly window set in one transaction.
	// Availability is owned and mutated only by the practitioner; the
	// scheduling side treats it as read-only input.
	Replace(ctx context.Context, practitionerID uuid.UUID, windows []*Window) error
}
