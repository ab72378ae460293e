package orchestrator

// Config defines control-loop timing and event-ingestion parameters.
type Config struct {
	// PollIntervalSeconds is the cadence of the orchestrator tick.
	PollIntervalSeconds int `json:"poll_interval_seconds"`
	// ReevalIntervalSeconds is how often an active event is re-scored and
	// re-planned to follow telemetry drift.
	ReevalIntervalSeconds int `json:"reeval_interval_seconds"`
	// SnapshotTimeoutSeconds bounds each telemetry snapshot fetch.
	SnapshotTimeoutSeconds int `json:"snapshot_timeout_seconds"`
	// LevelStepKW converts a signal level into a kW target when the VTN
	// sends no explicit target.
	LevelStepKW float64 `json:"level_step_kw"`
	// TriggeredBy is recorded on control actions issued by the engine.
	TriggeredBy string `json:"triggered_by"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 15
	}
	if c.ReevalIntervalSeconds <= 0 {
		c.ReevalIntervalSeconds = 300
	}
	if c.SnapshotTimeoutSeconds <= 0 {
		c.SnapshotTimeoutSeconds = 5
	}
	if c.LevelStepKW <= 0 {
		c.LevelStepKW = 5
	}
	if c.TriggeredBy == "" {
		c.TriggeredBy = "ilc-engine"
	}
}
