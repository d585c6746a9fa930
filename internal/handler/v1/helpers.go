package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dentalops/dentalflow/internal/domain/appointment"
	"github.com/dentalops/dentalflow/internal/domain/availability"
	"github.com/dentalops/dentalflow/internal/scheduling"
)

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

// respondServiceError translates the five error kinds of the scheduling core,
// plus ambient ones, into distinct HTTP responses. Rejection reasons are
// surfaced verbatim; they are already human-readable.
func respondServiceError(c *gin.Context, err error) {
	var rejection *scheduling.RejectionError
	if errors.As(err, &rejection) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: rejection.Reason,
			Code:  "SLOT_REJECTED",
			Details: map[string]string{
				"rule": rejection.Rule,
			},
		})
		return
	}

	var invalidTransition *appointment.InvalidTransitionError
	if errors.As(err, &invalidTransition) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: invalidTransition.Error(),
			Code:  "INVALID_TRANSITION",
			Details: map[string]string{
				"from":    string(invalidTransition.From),
				"trigger": string(invalidTransition.Trigger),
			},
		})
		return
	}

	var validation *appointment.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: validation.Error(),
			Code:  "VALIDATION_ERROR",
			Details: map[string]string{
				"field": validation.Field,
			},
		})
		return
	}

	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})

	case errors.Is(err, appointment.ErrConcurrentModification):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "CONCURRENT_MODIFICATION",
		})

	case errors.Is(err, appointment.ErrScheduledInPast),
		errors.Is(err, availability.ErrInvalidWindow):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})

	case errors.Is(err, appointment.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return false
	}

	return true
}

func parseUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + param + ": must be a valid UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func parseQueryInt(c *gin.Context, key string, defaultVal int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}
