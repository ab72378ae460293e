package dispatch

// Config defines dispatch-related settings.
type Config struct {
	// AckTimeoutSeconds bounds the wait for a device acknowledgment per attempt.
	AckTimeoutSeconds int `json:"ack_timeout_seconds"`
	// MaxAttempts is the retry ceiling per (event, unit, action_type).
	MaxAttempts int `json:"max_attempts"`
	// BackoffMS is the base of the exponential retry backoff.
	BackoffMS int `json:"backoff_ms"`
	// MaxParallel bounds concurrent commands across distinct units.
	MaxParallel int `json:"max_parallel"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.AckTimeoutSeconds <= 0 {
		c.AckTimeoutSeconds = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 200
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 8
	}
}
