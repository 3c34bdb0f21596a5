package ingest

import (
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
)

// Status is the terminal state of one processed record.
type Status int

const (
	// StatusAccepted means the event was recorded and emitted.
	StatusAccepted Status = iota

	// StatusDropped means the event was rejected; Reason says why.
	StatusDropped
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Reason explains a drop.
type Reason string

// Drop reasons.
const (
	ReasonNone             Reason = "none"
	ReasonValidationFailed Reason = "validation_failed"
	ReasonDuplicate        Reason = "duplicate"
	ReasonPreferenceDenied Reason = "preference_denied"
	ReasonCapacityExceeded Reason = "capacity_exceeded"
)

// Outcome is the result of processing one record.
type Outcome struct {
	Status Status
	Reason Reason

	// Err carries the validation or drop error for dropped records.
	Err error

	// Event is the validated event. Nil when validation did not run or failed.
	Event event.Event

	// Sequence is the 1-based position of the record in the run.
	Sequence int64
}

// Accepted reports whether the record was accepted.
func (o Outcome) Accepted() bool {
	return o.Status == StatusAccepted
}

// RecipientID returns the event's recipient, or 0 without a validated event.
func (o Outcome) RecipientID() int64 {
	if o.Event == nil {
		return 0
	}
	return o.Event.RecipientID()
}

func accepted(evt event.Event) Outcome {
	return Outcome{Status: StatusAccepted, Reason: ReasonNone, Event: evt}
}

func dropped(reason Reason, err error, evt event.Event) Outcome {
	return Outcome{Status: StatusDropped, Reason: reason, Err: err, Event: evt}
}
