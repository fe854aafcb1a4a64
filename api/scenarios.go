/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	inquiries and bookings for manual testing of the staff calendar. Dates are
	relative to the manager clock so a scenario always lands on upcoming
	weekdays.

AVAILABLE SCENARIOS:

	double-booking: resident A holds 09:00-10:00, resident B asks for the same day
	busy-week:      a week with one fully booked day and several partial days
	edit-schedule:  one inquiry scheduled on two dates, ready to be re-saved

HOW SCENARIOS WORK:
 1. Create inquiries through the manager (same validation as the API)
 2. Propose schedules through the manager (same preflight as the API)
 3. Record the loaded scenario

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "double-booking"}

NOTE:

	Inquiry ids are fixed per scenario, so loading the same scenario twice
	returns 409 instead of piling up duplicates.

SEE ALSO:
  - handlers.go: the endpoints the scenarios exercise
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"github.com/barangay/appointments/booking"
	"github.com/barangay/appointments/scheduler"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "double-booking",
		Name:        "Double Booking",
		Description: "Resident A holds 09:00-10:00; resident B requested the same day and is still pending",
	},
	{
		ID:          "busy-week",
		Name:        "Busy Week",
		Description: "Five weekdays of bookings: one fully booked day, partial days and a free day",
	},
	{
		ID:          "edit-schedule",
		Name:        "Edit Schedule",
		Description: "One inquiry scheduled on two dates with a cap of two, ready to be edited",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"double-booking": (*Handler).loadDoubleBookingScenario,
	"busy-week":      (*Handler).loadBusyWeekScenario,
	"edit-schedule":  (*Handler).loadEditScheduleScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, r, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, nil)
}

// LoadScenario seeds the store with a demo scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err := load(h, r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "scenario": req.ScenarioID})
}

// =============================================================================
// LOADERS
// =============================================================================

// loadDoubleBookingScenario reproduces the classic A/B case: proposing B at
// 09:00 on the first weekday returns a conflict naming resident A.
func (h *Handler) loadDoubleBookingScenario(ctx context.Context) error {
	day := upcomingWeekdays(h.mgr.Today(), 1)[0]

	if err := h.seed(ctx, "demo-ab-a", "maria.santos", "Maria Santos", "Barangay clearance",
		[]booking.Date{day}, 1, slot(day, "09:00", "10:00")); err != nil {
		return err
	}
	return h.seed(ctx, "demo-ab-b", "jose.reyes", "Jose Reyes", "Certificate of indigency",
		[]booking.Date{day}, 1)
}

// loadBusyWeekScenario books the next five weekdays at decreasing load.
func (h *Handler) loadBusyWeekScenario(ctx context.Context) error {
	days := upcomingWeekdays(h.mgr.Today(), 5)

	// Day 1: fully booked, both office windows taken.
	if err := h.seed(ctx, "demo-week-1", "ana.cruz", "Ana Cruz", "Business permit endorsement",
		days[:1], 2, slot(days[0], "08:00", "12:00"), slot(days[0], "13:00", "17:00")); err != nil {
		return err
	}
	// Day 2: half day.
	if err := h.seed(ctx, "demo-week-2", "ben.garcia", "Ben Garcia", "Barangay ID",
		days[1:2], 1, slot(days[1], "08:00", "12:00")); err != nil {
		return err
	}
	// Day 3: two short bookings from different residents.
	if err := h.seed(ctx, "demo-week-3a", "carla.lim", "Carla Lim", "Residency certificate",
		days[2:3], 1, slot(days[2], "09:00", "09:30")); err != nil {
		return err
	}
	if err := h.seed(ctx, "demo-week-3b", "dan.tan", "Dan Tan", "Complaint hearing",
		days[2:3], 1, slot(days[2], "14:00", "15:30")); err != nil {
		return err
	}
	// Day 4 stays free; day 5 has a pending request only.
	return h.seed(ctx, "demo-week-5", "ella.ramos", "Ella Ramos", "Barangay clearance",
		[]booking.Date{days[3], days[4]}, 1)
}

// loadEditScheduleScenario schedules one inquiry on two dates.
func (h *Handler) loadEditScheduleScenario(ctx context.Context) error {
	days := upcomingWeekdays(h.mgr.Today(), 3)
	return h.seed(ctx, "demo-edit", "fe.villanueva", "Fe Villanueva", "Lupon mediation",
		days, 2, slot(days[0], "10:00", "11:00"), slot(days[2], "15:00", "16:00"))
}

// seed creates one inquiry and, when slots are given, schedules it.
func (h *Handler) seed(ctx context.Context, id, username, name, subject string, dates []booking.Date, maxToSchedule int, slots ...booking.ScheduledSlot) error {
	if _, err := h.mgr.CreateInquiry(ctx, scheduler.NewInquiry{
		ID:             booking.InquiryID(id),
		Requester:      booking.Resident{Username: username, DisplayName: name},
		Subject:        subject,
		RequestedDates: dates,
		MaxToSchedule:  maxToSchedule,
	}); err != nil {
		return fmt.Errorf("seed %s: %w", id, err)
	}
	if len(slots) == 0 {
		return nil
	}
	if _, err := h.mgr.ProposeSchedule(ctx, booking.InquiryID(id), slots, maxToSchedule); err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	return nil
}

// upcomingWeekdays returns the first n weekdays strictly after today.
// Holidays are not skipped; a scenario landing on one fails with 400.
func upcomingWeekdays(today booking.Date, n int) []booking.Date {
	out := make([]booking.Date, 0, n)
	for d := today.AddDays(1); len(out) < n; d = d.AddDays(1) {
		if !d.IsWeekend() {
			out = append(out, d)
		}
	}
	return out
}

func slot(d booking.Date, start, end string) booking.ScheduledSlot {
	return booking.ScheduledSlot{Date: d, Start: booking.MustParseClock(start), End: booking.MustParseClock(end)}
}
