// Package telemetry defines the boundary to the time-series collaborator:
// live power snapshots for scoring and windowed history for settlement.
package telemetry

import (
	"context"
	"fmt"
	"time"
)

// Reading is the last known power/state sample for one unit. The timestamp is
// the sample's own collection time, used for staleness checks.
type Reading struct {
	UnitID    string    `json:"unit_id"`
	PowerKW   float64   `json:"power_kw"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time view of the fleet.
type Snapshot struct {
	Taken    time.Time
	Readings map[string]Reading
}

// Reading returns the sample for the unit and whether one exists.
func (s Snapshot) Reading(unitID string) (Reading, bool) {
	r, ok := s.Readings[unitID]
	return r, ok
}

// Provider supplies live snapshots. Implementations must honor the context
// deadline; a snapshot fetch never blocks indefinitely.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// HistoryReader answers windowed queries against stored telemetry. Settlement
// depends on it being repeatable: identical windows yield identical answers.
type HistoryReader interface {
	// MeanPowerKW returns the average whole-home power over [start, end).
	MeanPowerKW(ctx context.Context, homeID string, start, end time.Time) (float64, error)
	// BaselineKW estimates the load the home would draw absent curtailment,
	// as of the given instant. ok is false when no baseline can be formed.
	BaselineKW(ctx context.Context, homeID string, asOf time.Time) (kw float64, ok bool, err error)
}

// InsufficientDataError reports that a unit's telemetry is stale beyond the
// configured bound. The unit is excluded from the current scoring pass.
type InsufficientDataError struct {
	UnitID string
	Age    time.Duration
	Bound  time.Duration
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("telemetry for unit %s is %s old, staleness bound %s", e.UnitID, e.Age, e.Bound)
}
