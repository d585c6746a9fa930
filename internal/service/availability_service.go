package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dentalops/dentalflow/internal/domain"
	"github.com/dentalops/dentalflow/internal/domain/appointment"
	"github.com/dentalops/dentalflow/internal/domain/availability"
)

type AvailabilityService struct {
	repo  availability.Repository
	audit *AuditService
	log   *zap.Logger
}

func NewAvailabilityService(repo availability.Repository, audit *AuditService, log *zap.Logger) *AvailabilityService {
	return &AvailabilityService{repo: repo, audit: audit, log: log}
}

func (s *AvailabilityService) GetWeek(ctx context.Context, practitionerID uuid.UUID) ([]*availability.Window, error) {
	windows, err := s.repo.GetByPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("loading availability: %w", err)
	}
	return windows, nil
}

// ReplaceWeek swaps a practitioner's weekly window set. Only the practitioner
// themselves or an admin may edit; the scheduling side never writes here.
func (s *AvailabilityService) ReplaceWeek(ctx context.Context, practitionerID uuid.UUID, windows []*availability.Window, actor domain.Actor, ip string) error {
	if actor.Role != domain.RoleAdmin {
		if actor.Role != domain.RolePractitioner || actor.PractitionerID == nil || *actor.PractitionerID != practitionerID {
			return appointment.ErrForbidden
		}
	}

	seen := make(map[int]bool, len(windows))
	for _, w := range windows {
		w.PractitionerID = practitionerID
		if err := w.Validate(); err != nil {
			return err
		}
		if seen[w.Weekday] {
			return fmt.Errorf("%w: duplicate weekday %s", availability.ErrInvalidWindow, time.Weekday(w.Weekday))
		}
		seen[w.Weekday] = true
	}

	if err := s.repo.Replace(ctx, practitionerID, windows); err != nil {
		return fmt.Errorf("replacing availability: %w", err)
	}

	s.audit.LogAsync(ctx, AuditEntry{
		Actor: actor, Action: domain.ActionUpdate,
		ResourceType: "availability", ResourceID: practitionerID.String(), IPAddress: ip,
	})
	return nil
}
