// Package vtn receives demand-response signals from the utility head-end and
// feeds them into the engine. Signals arrive over MQTT in production; an
// internal generator stands in for the head-end during development.
package vtn

import (
	"fmt"
	"time"
)

// Config configures the signal intake.
type Config struct {
	// Mode selects the intake: "mqtt" or "internal".
	Mode        string `json:"mode"`
	SignalTopic string `json:"signal_topic"`
	CancelTopic string `json:"cancel_topic"`

	// Generator parameters, used when Mode is "internal".
	MinIntervalSeconds int      `json:"min_interval_seconds"`
	MaxIntervalSeconds int      `json:"max_interval_seconds"`
	MinDurationSeconds int      `json:"min_duration_seconds"`
	MaxDurationSeconds int      `json:"max_duration_seconds"`
	MinTargetKW        float64  `json:"min_target_kw"`
	MaxTargetKW        float64  `json:"max_target_kw"`
	SignalTypes        []string `json:"signal_types"`
	Seed               int64    `json:"seed"`
}

// SetDefaults applies fallback values for optional fields.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "mqtt"
	}
	if c.SignalTopic == "" {
		c.SignalTopic = "vtn/events"
	}
	if c.CancelTopic == "" {
		c.CancelTopic = "vtn/events/cancel"
	}
	if c.MinIntervalSeconds <= 0 {
		c.MinIntervalSeconds = 300
	}
	if c.MaxIntervalSeconds <= 0 {
		c.MaxIntervalSeconds = 900
	}
	if c.MinDurationSeconds <= 0 {
		c.MinDurationSeconds = 600
	}
	if c.MaxDurationSeconds <= 0 {
		c.MaxDurationSeconds = 3600
	}
	if c.MinTargetKW == 0 {
		c.MinTargetKW = 5
	}
	if c.MaxTargetKW == 0 {
		c.MaxTargetKW = 50
	}
	if len(c.SignalTypes) == 0 {
		c.SignalTypes = []string{"load_reduction"}
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	if c.Mode != "mqtt" && c.Mode != "internal" && c.Mode != "" {
		return fmt.Errorf("unknown vtn mode %s", c.Mode)
	}
	if c.MinIntervalSeconds > c.MaxIntervalSeconds {
		return fmt.Errorf("min_interval_seconds > max_interval_seconds")
	}
	if c.MinDurationSeconds > c.MaxDurationSeconds {
		return fmt.Errorf("min_duration_seconds > max_duration_seconds")
	}
	if c.MinTargetKW > c.MaxTargetKW {
		return fmt.Errorf("min_target_kw > max_target_kw")
	}
	return nil
}

func (c Config) minInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

func (c Config) maxInterval() time.Duration {
	return time.Duration(c.MaxIntervalSeconds) * time.Second
}

func (c Config) minDuration() time.Duration {
	return time.Duration(c.MinDurationSeconds) * time.Second
}

func (c Config) maxDuration() time.Duration {
	return time.Duration(c.MaxDurationSeconds) * time.Second
}
