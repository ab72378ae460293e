package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType defines the command issued against a unit.
type ActionType int

const (
	ActionCurtail ActionType = iota
	ActionSetpointAdjust
	ActionRelease
)

// String returns a human-readable representation of the action type.
func (t ActionType) String() string {
	switch t {
	case ActionCurtail:
		return "curtail"
	case ActionSetpointAdjust:
		return "setpoint_adjust"
	case ActionRelease:
		return "release"
	default:
		return "unknown"
	}
}

// ParseActionType maps the wire representation to an ActionType.
func ParseActionType(s string) (ActionType, error) {
	switch s {
	case "curtail":
		return ActionCurtail, nil
	case "setpoint_adjust":
		return ActionSetpointAdjust, nil
	case "release":
		return ActionRelease, nil
	default:
		return 0, fmt.Errorf("unknown action type %q", s)
	}
}

// ActionKey identifies one logical command decision. Two dispatches sharing a
// key must never both put a command on the wire while one is outstanding.
type ActionKey struct {
	EventRef   string
	UnitID     string
	ActionType ActionType
}

// ControlAction is one append-only audit row: a single attempt at a single
// command. Rows are created by the dispatcher at issue time and mutated only
// to attach the asynchronous acknowledgement.
type ControlAction struct {
	EventRef       string          `json:"event_ref,omitempty"` // empty for schedule/manual actions
	UnitID         string          `json:"unit_id"`
	Type           ActionType      `json:"action_type"`
	Attempt        int             `json:"attempt"`
	TriggeredBy    string          `json:"triggered_by"`
	PriorityScore  float64         `json:"ilc_priority_score"`
	TargetKW       float64         `json:"demand_target_kw"`
	DemandKW       float64         `json:"demand_current_kw"`
	EstimatedKW    float64         `json:"estimated_reduction_kw"`
	Command        json.RawMessage `json:"command,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
	IssuedAt       time.Time       `json:"issued_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
}

// Key returns the idempotence key for the action.
func (a ControlAction) Key() ActionKey {
	return ActionKey{EventRef: a.EventRef, UnitID: a.UnitID, ActionType: a.Type}
}
