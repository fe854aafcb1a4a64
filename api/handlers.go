/*
handlers.go - HTTP API handlers for the appointment scheduler

PURPOSE:
  Exposes the scheduling manager via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to scheduler.Manager.
  No handler reads bookings and then writes: the preflight-then-commit
  sequence happens entirely inside ProposeSchedule.

ENDPOINTS:
  Scheduling:
    GET    /api/existing-ranges?date=&exclude=   Bookings held on a date
    POST   /api/schedule                          Propose slots (commit or conflicts)
    POST   /api/cancel                            Cancel a scheduled inquiry
    POST   /api/resolve                           Close an inquiry

  Calendar:
    GET    /api/day-status?start=&end=            Per-day availability
    GET    /api/day-blocks?date=&granularity=     Tiled day with holders

  Inquiries:
    POST   /api/inquiries                         Resident submission
    GET    /api/inquiries?status=&requester=&limit=
    GET    /api/inquiries/{id}

  Holidays:
    GET    /api/holidays
    POST   /api/holidays
    DELETE /api/holidays/{id}

ERROR HANDLING:
  All manager errors go through (*Handler).fail (errors.go):
  - 400: Validation errors, invalid input
  - 404: Inquiry not found
  - 409: Schedule conflicts (body lists every conflict), duplicate id
  - 422: Invalid status transition
  - 503: Store unavailable (retryable)

SECURITY NOTE:
  Authentication is handled upstream. All endpoints here trust the caller.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/barangay/appointments/booking"
	"github.com/barangay/appointments/scheduler"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	mgr    *scheduler.Manager
	logger *zap.Logger
	checks map[string]ReadyCheck

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the scheduling manager.
func NewHandler(mgr *scheduler.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		mgr:    mgr,
		logger: logger,
		checks: make(map[string]ReadyCheck),
	}
}

// AddReadyCheck registers a dependency probed by /healthz.
func (h *Handler) AddReadyCheck(name string, check ReadyCheck) {
	h.checks[name] = check
}

// =============================================================================
// SCHEDULING ENDPOINTS
// =============================================================================

// ExistingRanges returns every booking on a date, optionally excluding one inquiry.
// GET /api/existing-ranges?date=YYYY-MM-DD&exclude=ID
func (h *Handler) ExistingRanges(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	exclude := booking.InquiryID(r.URL.Query().Get("exclude"))

	ranges, err := h.mgr.ExistingRanges(r.Context(), date, exclude)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toExistingRangeDTOs(ranges))
}

// Schedule commits a staff proposal or reports every conflict.
// POST /api/schedule
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.InquiryID == "" {
		h.fail(w, r, booking.NewValidationError("inquiryId", booking.CodeRequired, "inquiryId is required"))
		return
	}
	slots, err := toSlots(req.ScheduledDates)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.mgr.ProposeSchedule(r.Context(), booking.InquiryID(req.InquiryID), slots, req.MaxToSchedule)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ScheduleResponse{Committed: true, Slots: toSlotDTOs(res.Slots)})
}

// Cancel frees a scheduled inquiry's slots.
// POST /api/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.InquiryID == "" {
		h.fail(w, r, booking.NewValidationError("inquiryId", booking.CodeRequired, "inquiryId is required"))
		return
	}

	inq, err := h.mgr.CancelSchedule(r.Context(), booking.InquiryID(req.InquiryID), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toInquiryDTO(inq))
}

// Resolve closes an inquiry.
// POST /api/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.InquiryID == "" {
		h.fail(w, r, booking.NewValidationError("inquiryId", booking.CodeRequired, "inquiryId is required"))
		return
	}

	inq, err := h.mgr.ResolveInquiry(r.Context(), booking.InquiryID(req.InquiryID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toInquiryDTO(inq))
}

// =============================================================================
// CALENDAR ENDPOINTS
// =============================================================================

// DayStatus colours every date in [start, end].
// GET /api/day-status?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) DayStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseDate("start", q.Get("start"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := parseDate("end", q.Get("end"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	days, err := h.mgr.DayStatuses(r.Context(), start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toDayStatusDTOs(days))
}

// DayBlocks tiles one date and marks the taken blocks.
// GET /api/day-blocks?date=YYYY-MM-DD&granularity=30
func (h *Handler) DayBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDate("date", q.Get("date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	granularity := 0
	if g := q.Get("granularity"); g != "" {
		if granularity, err = strconv.Atoi(g); err != nil {
			h.fail(w, r, booking.NewValidationError("granularity", booking.CodeInvalidFormat, "granularity must be a number of minutes"))
			return
		}
	}

	blocks, err := h.mgr.DayPreview(r.Context(), date, granularity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toPreviewDTOs(blocks))
}

// =============================================================================
// INQUIRY ENDPOINTS
// =============================================================================

// CreateInquiry records a resident's request.
// POST /api/inquiries
func (h *Handler) CreateInquiry(w http.ResponseWriter, r *http.Request) {
	var req CreateInquiryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	dates, err := parseDates("requestedDates", req.RequestedDates)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	inq, err := h.mgr.CreateInquiry(r.Context(), scheduler.NewInquiry{
		ID:             booking.InquiryID(req.ID),
		Requester:      booking.Resident{Username: req.Requester.Username, DisplayName: req.Requester.DisplayName},
		Subject:        req.Subject,
		RequestedDates: dates,
		MaxToSchedule:  req.MaxToSchedule,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toInquiryDTO(inq))
}

// ListInquiries returns inquiries newest first.
// GET /api/inquiries?status=&requester=&limit=
func (h *Handler) ListInquiries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := booking.InquiryFilter{
		Status:    booking.Status(q.Get("status")),
		Requester: q.Get("requester"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			h.fail(w, r, booking.NewValidationError("limit", booking.CodeInvalidFormat, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	inqs, err := h.mgr.ListInquiries(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]InquiryDTO, 0, len(inqs))
	for i := range inqs {
		dtos = append(dtos, toInquiryDTO(&inqs[i]))
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// GetInquiry returns one inquiry with its slots.
// GET /api/inquiries/{id}
func (h *Handler) GetInquiry(w http.ResponseWriter, r *http.Request) {
	inq, err := h.mgr.GetInquiry(r.Context(), booking.InquiryID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toInquiryDTO(inq))
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// ListHolidays returns every declared closure.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.mgr.ListHolidays(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, toHolidayDTO(hol))
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// CreateHoliday closes a date for new proposals.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	hol, err := h.mgr.AddHoliday(r.Context(), booking.Holiday{Date: date, Name: req.Name, Recurring: req.Recurring})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toHolidayDTO(*hol))
}

// DeleteHoliday reopens a date.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.RemoveHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz probes every registered dependency.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, r, status, map[string]any{"status": http.StatusText(status), "checks": results})
}
