package v1

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dentalops/dentalflow/internal/domain/availability"
	"github.com/dentalops/dentalflow/internal/service"
)

type AvailabilityHandler struct {
	svc *service.AvailabilityService
	log *zap.Logger
}

func NewAvailabilityHandler(svc *service.AvailabilityService, log *zap.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc, log: log}
}

type availabilityWindowDTO struct {
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Enabled   bool   `json:"enabled"`
}

func (h *AvailabilityHandler) GetWeek(c *gin.Context) {
	practitionerID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	windows, err := h.svc.GetWeek(c.Request.Context(), practitionerID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]availabilityWindowDTO, 0, len(windows))
	for _, w := range windows {
		out = append(out, availabilityWindowDTO{
			Weekday:   w.Weekday,
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
			Enabled:   w.Enabled,
		})
	}
	respondOK(c, out)
}

type replaceWeekRequest struct {
	Windows []availabilityWindowDTO `json:"windows" binding:"required"`
}

func (h *AvailabilityHandler) ReplaceWeek(c *gin.Context) {
	practitionerID, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req replaceWeekRequest
	if !bindJSON(c, &req) {
		return
	}

	windows := make([]*availability.Window, 0, len(req.Windows))
	for _, dto := range req.Windows {
		windows = append(windows, &availability.Window{
			Weekday:   dto.Weekday,
			StartTime: dto.StartTime,
			EndTime:   dto.EndTime,
			Enabled:   dto.Enabled,
		})
	}

	actor := actorFrom(c)
	if err := h.svc.ReplaceWeek(c.Request.Context(), practitionerID, windows, actor, c.ClientIP()); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"updated": true})
}
