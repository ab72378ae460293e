package model

import (
	"fmt"
	"time"
)

// EventStatus tracks a demand-response event through its lifecycle.
type EventStatus int

const (
	StatusPending EventStatus = iota
	StatusActive
	StatusCompleted
	StatusCancelled
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s EventStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status permits no further transitions.
func (s EventStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	case StatusPending, StatusActive:
		return false
	default:
		return false
	}
}

// SignalType defines the kind of demand-reduction signal received from the VTN.
type SignalType int

const (
	SignalLoadReduction SignalType = iota
	SignalEmergency
	SignalPriceResponse
)

// String returns a human-readable representation of the signal type.
func (t SignalType) String() string {
	switch t {
	case SignalLoadReduction:
		return "load_reduction"
	case SignalEmergency:
		return "emergency"
	case SignalPriceResponse:
		return "price_response"
	default:
		return "unknown"
	}
}

// ParseSignalType maps the wire representation to a SignalType.
func ParseSignalType(s string) (SignalType, error) {
	switch s {
	case "load_reduction":
		return SignalLoadReduction, nil
	case "emergency":
		return SignalEmergency, nil
	case "price_response":
		return SignalPriceResponse, nil
	default:
		return 0, fmt.Errorf("unknown signal type %q", s)
	}
}

// DREvent represents one demand-response event owned by the orchestrator.
// Reference is the utility-issued identifier and is globally unique.
type DREvent struct {
	Reference   string
	Type        SignalType
	Level       int
	TargetKW    float64
	Start       time.Time
	End         time.Time
	Status      EventStatus
	Priority    int
	TestEvent   bool
	TargetUnmet bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transition moves the event to the requested status, stamping UpdatedAt.
// Terminal states are final; illegal edges are rejected.
func (e *DREvent) Transition(to EventStatus, now time.Time) error {
	if e.Status.Terminal() {
		return fmt.Errorf("event %s: %s is terminal, cannot become %s", e.Reference, e.Status, to)
	}
	ok := false
	switch to {
	case StatusActive:
		ok = e.Status == StatusPending
	case StatusCompleted, StatusFailed:
		ok = e.Status == StatusActive
	case StatusCancelled:
		ok = e.Status == StatusPending || e.Status == StatusActive
	case StatusPending:
		ok = false
	}
	if !ok {
		return fmt.Errorf("event %s: illegal transition %s -> %s", e.Reference, e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

// Window returns the event duration. It is positive for any validated event.
func (e *DREvent) Window() time.Duration { return e.End.Sub(e.Start) }
