package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/barangay/appointments/booking"
	"github.com/barangay/appointments/scheduler"
)

// ErrorResponse is the body of every non-2xx reply except schedule conflicts.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, r, status, resp)
}

// fail maps a manager error onto its HTTP status.
//
//	ValidationError          400
//	ErrInquiryNotFound       404
//	ConflictError            409 (schedule body, committed=false)
//	ErrDuplicateInquiry      409
//	InvalidTransitionError   422
//	ErrNoHolidayStore        501
//	TransportError, timeout  503 retryable
//	anything else            500
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *booking.ValidationError
		cerr *booking.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{
			Error: verr.Message, Code: verr.Code, Field: verr.Field,
		})
	case errors.As(err, &cerr):
		writeJSON(w, r, http.StatusConflict, ScheduleResponse{
			Committed: false, Conflicts: toConflictDTOs(cerr.Conflicts),
		})
	case booking.IsNotFound(err):
		writeError(w, r, http.StatusNotFound, "inquiry not found", err)
	case errors.Is(err, booking.ErrDuplicateInquiry):
		writeError(w, r, http.StatusConflict, "inquiry already exists", err)
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, r, http.StatusUnprocessableEntity, "invalid status transition", err)
	case errors.Is(err, scheduler.ErrNoHolidayStore):
		writeError(w, r, http.StatusNotImplemented, "holidays are not supported by this store", err)
	case booking.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("store unavailable",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, r, http.StatusServiceUnavailable, ErrorResponse{
			Error: "store unavailable, nothing was committed", Details: err.Error(), Retryable: true,
		})
	default:
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error", nil)
	}
}
