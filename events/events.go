/*
Package events publishes inquiry lifecycle notifications.

PURPOSE:
  Downstream consumers (SMS reminders, the staff dashboard) learn about
  scheduling decisions without polling the store. Events are emitted only
  after a successful commit and carry the committed state.

DELIVERY:
  Best effort. A failed publish is logged by the caller and never undoes or
  fails the commit that produced it.

TOPICS:
  One topic per event type, e.g. "inquiry.scheduled". The message key is the
  inquiry id so all events for one inquiry land on one partition in order.
*/
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	InquiryCreated   Type = "inquiry.created"
	InquiryScheduled Type = "inquiry.scheduled"
	InquiryCanceled  Type = "inquiry.canceled"
	InquiryResolved  Type = "inquiry.resolved"
)

// Slot is the wire shape of a scheduled slot inside an event payload.
type Slot struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Payload is the JSON body of every inquiry event.
type Payload struct {
	InquiryID string `json:"inquiry_id"`
	Requester string `json:"requester"`
	Status    string `json:"status"`
	Slots     []Slot `json:"slots,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type Event struct {
	ID         string
	Type       Type
	OccurredAt time.Time
	Payload    Payload
}

// New stamps an event with a fresh id.
func New(t Type, at time.Time, p Payload) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: at.UTC(), Payload: p}
}

func (e Event) Key() []byte { return []byte(e.Payload.InquiryID) }

func (e Event) Body() ([]byte, error) {
	return json.Marshal(struct {
		ID         string    `json:"event_id"`
		Type       Type      `json:"event_type"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload
	}{e.ID, e.Type, e.OccurredAt, e.Payload})
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
	Close() error
}

// =============================================================================
// NOP / RECORDER
// =============================================================================

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                             { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned from Publish after recording.
	Err error
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return r.Err
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
