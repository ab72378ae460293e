package vtn

import (
	"context"
	"strings"

	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/orchestrator"
	"github.com/rongxinyin/pezzrr-app/infra/mqtt"
)

// Sink is the subset of the orchestrator the intake feeds.
type Sink interface {
	Ingest(n orchestrator.SignalNotice) (*model.DREvent, error)
	Cancel(ref, by string) error
}

// Connector defines the behavior of a signal intake.
type Connector interface {
	Start(ctx context.Context) error
}

// NewConnector creates a connector depending on cfg.Mode ("mqtt" or "internal").
func NewConnector(cfg Config, mqttCfg mqtt.Config, sink Sink) (Connector, error) {
	cfg.SetDefaults()
	switch strings.ToLower(cfg.Mode) {
	case "internal":
		return NewGenerator(cfg, sink), nil
	default:
		return NewMQTTConnector(cfg, mqttCfg, sink)
	}
}
