// Package events defines the typed notifications published on the event bus.
package events

import (
	"time"

	"github.com/rongxinyin/pezzrr-app/core/model"
)

// TransitionEvent is published whenever a DR event changes status.
type TransitionEvent struct {
	EventRef string
	From     model.EventStatus
	To       model.EventStatus
	At       time.Time
}

// ActionEvent is published for every command attempt outcome.
type ActionEvent struct {
	EventRef string
	UnitID   string
	Action   model.ActionType
	Attempt  int
	Success  bool
	Err      error
	Latency  time.Duration
}

// PlanEvent is published after each planning pass.
type PlanEvent struct {
	EventRef    string
	TargetKW    float64
	EstimatedKW float64
	Units       int
	TargetUnmet bool
}

// SettlementEvent is published when a participant has been settled.
type SettlementEvent struct {
	EventRef         string
	HomeID           string
	PerformanceScore float64
	SettlementKWh    float64
	Flags            []string
}
