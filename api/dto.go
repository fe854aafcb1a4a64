/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the booking domain model from the external API contract used by the staff
  portal and the resident app.

WIRE FORMATS:
  - dates: "YYYY-MM-DD"
  - times: "HH:mm", 24h, office-local, no timezone conversion
  - field names: camelCase
  - list fields are always arrays, never null

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Slots & conflicts:
    SlotDTO, ExistingRangeDTO, ConflictDTO

  Inquiries:
    InquiryDTO, CreateInquiryRequest, ScheduleRequest, ScheduleResponse,
    CancelRequest, ResolveRequest

  Calendar:
    DayStatusDTO, PreviewBlockDTO

  Holidays, scenarios:
    HolidayDTO, CreateHolidayRequest, ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Parsing of dates and times happens here (toSlots, parseDates) and fails
  with *booking.ValidationError; business validation is the manager's.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/barangay/appointments/booking"
)

// =============================================================================
// SLOTS & CONFLICTS
// =============================================================================

// SlotDTO is one (date, start, end) triple.
type SlotDTO struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type ResidentDTO struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

// ExistingRangeDTO is a booking held by another inquiry.
type ExistingRangeDTO struct {
	Date      string      `json:"date"`
	StartTime string      `json:"startTime"`
	EndTime   string      `json:"endTime"`
	InquiryID string      `json:"inquiryId"`
	Resident  ResidentDTO `json:"resident"`
}

// ConflictDTO names the booking that blocks a requested slot.
type ConflictDTO struct {
	Date               string      `json:"date"`
	StartTime          string      `json:"startTime"`
	EndTime            string      `json:"endTime"`
	InquiryID          string      `json:"inquiryId"`
	Resident           ResidentDTO `json:"resident"`
	RequestedStartTime string      `json:"requestedStartTime"`
	RequestedEndTime   string      `json:"requestedEndTime"`
}

// =============================================================================
// INQUIRIES
// =============================================================================

type InquiryDTO struct {
	ID             string      `json:"id"`
	Requester      ResidentDTO `json:"requester"`
	Subject        string      `json:"subject"`
	RequestedDates []string    `json:"requestedDates"`
	MaxToSchedule  int         `json:"maxToSchedule"`
	Status         string      `json:"status"`
	Slots          []SlotDTO   `json:"slots"`
	CancelReason   string      `json:"cancelReason,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// CreateInquiryRequest is a resident submission.
type CreateInquiryRequest struct {
	ID             string      `json:"id,omitempty"`
	Requester      ResidentDTO `json:"requester"`
	Subject        string      `json:"subject"`
	RequestedDates []string    `json:"requestedDates"`
	MaxToSchedule  int         `json:"maxToSchedule"`
}

// ScheduleRequest is a staff proposal.
type ScheduleRequest struct {
	InquiryID      string    `json:"inquiryId"`
	ScheduledDates []SlotDTO `json:"scheduledDates"`
	MaxToSchedule  int       `json:"maxToSchedule"`
}

// ScheduleResponse carries either the committed slots or every conflict.
type ScheduleResponse struct {
	Committed bool          `json:"committed"`
	Slots     []SlotDTO     `json:"slots,omitempty"`
	Conflicts []ConflictDTO `json:"conflicts,omitempty"`
}

type CancelRequest struct {
	InquiryID string `json:"inquiryId"`
	Reason    string `json:"reason"`
}

type ResolveRequest struct {
	InquiryID string `json:"inquiryId"`
}

// =============================================================================
// CALENDAR
// =============================================================================

type DayStatusDTO struct {
	Date            string          `json:"date"`
	Status          string          `json:"status"`
	BookedMinutes   int             `json:"bookedMinutes"`
	BookableMinutes int             `json:"bookableMinutes"`
	Utilization     decimal.Decimal `json:"utilization"`
	Closed          bool            `json:"closed"`
}

type PreviewBlockDTO struct {
	StartTime string       `json:"startTime"`
	EndTime   string       `json:"endTime"`
	Taken     bool         `json:"taken"`
	InquiryID string       `json:"inquiryId,omitempty"`
	Resident  *ResidentDTO `json:"resident,omitempty"`
}

// =============================================================================
// HOLIDAYS & SCENARIOS
// =============================================================================

type HolidayDTO struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

type CreateHolidayRequest struct {
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toResidentDTO(r booking.Resident) ResidentDTO {
	return ResidentDTO{Username: r.Username, DisplayName: r.DisplayName}
}

func toSlotDTOs(slots []booking.ScheduledSlot) []SlotDTO {
	out := make([]SlotDTO, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotDTO{Date: s.Date.String(), StartTime: s.Start.String(), EndTime: s.End.String()})
	}
	return out
}

func toExistingRangeDTOs(ranges []booking.ExistingRange) []ExistingRangeDTO {
	out := make([]ExistingRangeDTO, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, ExistingRangeDTO{
			Date:      r.Date.String(),
			StartTime: r.Start.String(),
			EndTime:   r.End.String(),
			InquiryID: string(r.InquiryID),
			Resident:  toResidentDTO(r.Resident),
		})
	}
	return out
}

func toConflictDTOs(items []booking.ConflictItem) []ConflictDTO {
	out := make([]ConflictDTO, 0, len(items))
	for _, c := range items {
		out = append(out, ConflictDTO{
			Date:               c.Date.String(),
			StartTime:          c.Start.String(),
			EndTime:            c.End.String(),
			InquiryID:          string(c.InquiryID),
			Resident:           toResidentDTO(c.Resident),
			RequestedStartTime: c.RequestedStart.String(),
			RequestedEndTime:   c.RequestedEnd.String(),
		})
	}
	return out
}

func toInquiryDTO(inq *booking.Inquiry) InquiryDTO {
	dates := make([]string, 0, len(inq.RequestedDates))
	for _, d := range inq.RequestedDates {
		dates = append(dates, d.String())
	}
	return InquiryDTO{
		ID:             string(inq.ID),
		Requester:      toResidentDTO(inq.Requester),
		Subject:        inq.Subject,
		RequestedDates: dates,
		MaxToSchedule:  inq.MaxToSchedule,
		Status:         string(inq.Status),
		Slots:          toSlotDTOs(inq.Slots),
		CancelReason:   inq.CancelReason,
		CreatedAt:      inq.CreatedAt,
		UpdatedAt:      inq.UpdatedAt,
	}
}

func toDayStatusDTOs(days []booking.DayStatus) []DayStatusDTO {
	out := make([]DayStatusDTO, 0, len(days))
	for _, d := range days {
		out = append(out, DayStatusDTO{
			Date:            d.Date.String(),
			Status:          string(d.Status),
			BookedMinutes:   d.BookedMinutes,
			BookableMinutes: d.BookableMinutes,
			Utilization:     d.Utilization,
			Closed:          d.Closed,
		})
	}
	return out
}

func toPreviewDTOs(blocks []booking.PreviewBlock) []PreviewBlockDTO {
	out := make([]PreviewBlockDTO, 0, len(blocks))
	for _, b := range blocks {
		dto := PreviewBlockDTO{StartTime: b.Start.String(), EndTime: b.End.String(), Taken: b.Taken}
		if b.InquiryID != "" {
			res := toResidentDTO(b.Resident)
			dto.InquiryID = string(b.InquiryID)
			dto.Resident = &res
		}
		out = append(out, dto)
	}
	return out
}

func toHolidayDTO(h booking.Holiday) HolidayDTO {
	return HolidayDTO{ID: h.ID, Date: h.Date.String(), Name: h.Name, Recurring: h.Recurring}
}

// toSlots parses wire slots. Field names in errors point into the request body.
func toSlots(in []SlotDTO) ([]booking.ScheduledSlot, error) {
	out := make([]booking.ScheduledSlot, 0, len(in))
	for i, s := range in {
		field := fmt.Sprintf("scheduledDates[%d]", i)
		d, err := parseDate(field+".date", s.Date)
		if err != nil {
			return nil, err
		}
		start, err := booking.ParseClock(s.StartTime)
		if err != nil {
			return nil, booking.NewValidationError(field+".startTime", booking.CodeInvalidFormat, "%v", err)
		}
		end, err := booking.ParseClock(s.EndTime)
		if err != nil {
			return nil, booking.NewValidationError(field+".endTime", booking.CodeInvalidFormat, "%v", err)
		}
		out = append(out, booking.ScheduledSlot{Date: d, Start: start, End: end})
	}
	return out, nil
}

func parseDate(field, s string) (booking.Date, error) {
	if s == "" {
		return booking.Date{}, booking.NewValidationError(field, booking.CodeRequired, "date is required")
	}
	d, err := booking.ParseDate(s)
	if err != nil {
		return booking.Date{}, booking.NewValidationError(field, booking.CodeInvalidFormat, "%v", err)
	}
	return d, nil
}

func parseDates(field string, in []string) ([]booking.Date, error) {
	out := make([]booking.Date, 0, len(in))
	for i, s := range in {
		d, err := parseDate(fmt.Sprintf("%s[%d]", field, i), s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
