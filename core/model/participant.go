package model

import "time"

// Data-quality flags recorded against a participant at settlement.
const (
	FlagBaselineMissing    = "baseline_missing"
	FlagTargetInvalid      = "target_invalid"
	FlagMeasurementMissing = "measurement_missing"
)

// Participant enrolls one home in one demand-response event. There is exactly
// one participant per (event, home) pair. The measured fields are filled by
// the settlement calculator once the event has left active.
type Participant struct {
	EventRef          string
	HomeID            string
	OptedIn           bool
	BaselineKW        *float64 // nil when no baseline could be established
	ReductionTargetKW float64
	ActualReductionKW float64
	PerformanceScore  float64 // clamped to [0,1]
	SettlementKWh     float64
	DataFlags         []string
	EnrolledAt        time.Time
	SettledAt         *time.Time
}

// Flagged reports whether the given data-quality flag is set.
func (p Participant) Flagged(flag string) bool {
	for _, f := range p.DataFlags {
		if f == flag {
			return true
		}
	}
	return false
}
