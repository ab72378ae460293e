// Package adapter defines the boundary to vendor device adapters. The engine
// sends structured commands and waits for acknowledgements; everything vendor
// specific lives behind this interface.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/model"
)

// ErrAckTimeout is returned when no acknowledgment arrives before the timeout.
var ErrAckTimeout = errors.New("timeout waiting for ack")

// Command is one structured device command.
type Command struct {
	CommandID string               `json:"command_id"`
	UnitID    string               `json:"unit_id"`
	Category  model.DeviceCategory `json:"-"`
	Action    model.ActionType     `json:"-"`
	// Params carries per-category numeric parameters, e.g. the setpoint
	// delta for thermostats.
	Params    map[string]float64 `json:"params,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// Ack is the terminal adapter response for a command.
type Ack struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
}

// Client sends commands to device adapters and tracks acknowledgements.
type Client interface {
	// Send publishes the command and returns the identifier used to track
	// the acknowledgement.
	Send(ctx context.Context, cmd Command) (commandID string, err error)

	// WaitForAck blocks until the acknowledgement for commandID arrives or
	// the timeout expires.
	WaitForAck(commandID string, timeout time.Duration) (Ack, error)
}
