package model

import (
	"fmt"
	"time"
)

// Kind classifies a scheduled item.
type Kind string

const (
	KindMeeting  Kind = "meeting"
	KindEvent    Kind = "event"
	KindDeadline Kind = "deadline"
	KindPersonal Kind = "personal"
)

// Valid reports whether k is one of the closed set of kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMeeting, KindEvent, KindDeadline, KindPersonal:
		return true
	}
	return false
}

// Priority orders events and notifications for display and filtering.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Event is a single scheduled item. Start carries the event's timezone;
// the index buckets by Start's calendar date in the display timezone.
type Event struct {
	ID       string        `json:"id" yaml:"id"`
	Title    string        `json:"title" yaml:"title"`
	Start    time.Time     `json:"start" yaml:"start"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Kind     Kind          `json:"kind" yaml:"kind"`
	Priority Priority      `json:"priority" yaml:"priority"`

	// ReminderOffsets are durations before Start at which a reminder
	// should fire. May be empty.
	ReminderOffsets []time.Duration `json:"reminder_offsets,omitempty" yaml:"reminder_offsets,omitempty"`

	// Display metadata; no behavioral effect on indexing or reminders.
	Attendees int    `json:"attendees,omitempty" yaml:"attendees,omitempty"`
	Location  string `json:"location,omitempty" yaml:"location,omitempty"`
}

// End returns the instant the event finishes. Zero-duration events
// (deadlines) end at their start.
func (e Event) End() time.Time {
	return e.Start.Add(e.Duration)
}

// Validate checks the invariants every event must satisfy before it is
// admitted into the index.
func (e Event) Validate() error {
	if e.ID == "" {
		return NewValidationError("id", "must not be empty")
	}
	if e.Title == "" {
		return NewValidationError("title", "must not be empty")
	}
	if e.Start.IsZero() {
		return NewValidationError("start", "must be a valid instant")
	}
	if e.Duration < 0 {
		return NewValidationError("duration", "must not be negative")
	}
	if !e.Kind.Valid() {
		return NewValidationError("kind", fmt.Sprintf("unknown kind %q", e.Kind))
	}
	if !e.Priority.Valid() {
		return NewValidationError("priority", fmt.Sprintf("unknown priority %q", e.Priority))
	}
	for _, off := range e.ReminderOffsets {
		if off < 0 {
			return NewValidationError("reminder_offsets", "offsets must not be negative")
		}
	}
	return nil
}

// SourceKind classifies where a notification came from.
type SourceKind string

const (
	SourceReminder     SourceKind = "reminder"
	SourceInvitation   SourceKind = "invitation"
	SourceUpdate       SourceKind = "update"
	SourceAnnouncement SourceKind = "event-announcement"
)

func (s SourceKind) Valid() bool {
	switch s {
	case SourceReminder, SourceInvitation, SourceUpdate, SourceAnnouncement:
		return true
	}
	return false
}

// Notification is a single entry in the notification center. Only Read
// is mutated after creation.
type Notification struct {
	ID             string     `json:"id"`
	Source         SourceKind `json:"source"`
	Title          string     `json:"title"`
	Message        string     `json:"message,omitempty"`
	Priority       Priority   `json:"priority"`
	CreatedAt      time.Time  `json:"created_at"`
	Read           bool       `json:"read"`
	ActionRequired bool       `json:"action_required"`

	// EventID links reminder notifications back to their event.
	EventID string `json:"event_id,omitempty"`
}

// Validate checks the fields the notification center enforces at its
// boundary. CreatedAt may be zero; the center assigns it on raise.
func (n Notification) Validate() error {
	if !n.Source.Valid() {
		return NewValidationError("source", fmt.Sprintf("unknown source kind %q", n.Source))
	}
	if !n.Priority.Valid() {
		return NewValidationError("priority", fmt.Sprintf("unknown priority %q", n.Priority))
	}
	return nil
}
