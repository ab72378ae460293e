// Package app wires the configuration into a running engine.
package app

import (
	"context"
	"fmt"

	"github.com/rongxinyin/pezzrr-app/config"
	"github.com/rongxinyin/pezzrr-app/core/adapter"
	"github.com/rongxinyin/pezzrr-app/core/audit"
	"github.com/rongxinyin/pezzrr-app/core/dispatch"
	"github.com/rongxinyin/pezzrr-app/core/ilc"
	"github.com/rongxinyin/pezzrr-app/core/orchestrator"
	"github.com/rongxinyin/pezzrr-app/core/plan"
	"github.com/rongxinyin/pezzrr-app/core/settlement"
	coretel "github.com/rongxinyin/pezzrr-app/core/telemetry"
	"github.com/rongxinyin/pezzrr-app/infra/logger"
	"github.com/rongxinyin/pezzrr-app/infra/metrics"
	"github.com/rongxinyin/pezzrr-app/infra/mqtt"
	infratel "github.com/rongxinyin/pezzrr-app/infra/telemetry"
	"github.com/rongxinyin/pezzrr-app/infra/vtn"
	"github.com/rongxinyin/pezzrr-app/internal/eventbus"
)

// Service assembles the curtailment engine and its connectors.
type Service struct {
	Orchestrator *orchestrator.Orchestrator
	Connector    vtn.Connector

	store       audit.Store
	bus         eventbus.EventBus
	log         logger.Logger
	forwarder   *metrics.Forwarder
	disconnect  func()
	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var client adapter.Client
	disconnect := func() {}
	if cfg.Mock {
		client = adapter.NewMockClient()
		logg.Warnf("running with mock device adapters")
	} else {
		pc, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		client = pc
		disconnect = pc.Disconnect
	}

	var provider coretel.Provider
	var history coretel.HistoryReader
	if cfg.Mock {
		mem := coretel.NewMemoryProvider()
		provider, history = mem, mem
	} else {
		provider, history = infratel.NewInfluxProviderWithFallback(cfg.Telemetry)
	}

	store, err := cfg.Audit.Open()
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}

	bus := eventbus.New()

	scorer, err := ilc.New(cfg.Scoring)
	if err != nil {
		return nil, fmt.Errorf("scorer: %w", err)
	}
	planner := plan.New(cfg.Planner)
	dispatcher, err := dispatch.New(client, store, bus, logger.New("dispatcher"), cfg.Dispatch)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	calc := settlement.New(history, bus, logger.New("settlement"))

	orch, err := orchestrator.New(cfg.Orchestrator, scorer, planner, dispatcher,
		provider, history, calc, store, bus, logger.New("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	for _, u := range cfg.Fleet {
		if err := orch.RegisterUnit(u.Unit()); err != nil {
			return nil, fmt.Errorf("register unit: %w", err)
		}
	}

	vtnCfg := cfg.VTN
	if cfg.Mock && vtnCfg.Mode != "internal" {
		vtnCfg.Mode = "internal"
	}
	connector, err := vtn.NewConnector(vtnCfg, cfg.MQTT, orch)
	if err != nil {
		return nil, fmt.Errorf("vtn connector: %w", err)
	}

	svc := &Service{
		Orchestrator: orch,
		Connector:    connector,
		store:        store,
		bus:          bus,
		log:          logg,
		disconnect:   disconnect,
		promEnabled:  cfg.Metrics.PrometheusEnabled,
		promPort:     cfg.Metrics.Port(),
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL,
			cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		svc.forwarder = metrics.NewForwarder(bus, sink)
	}
	return svc, nil
}

// Run starts the engine and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.forwarder != nil {
		go s.forwarder.Run(ctx)
	}
	go func() {
		if err := s.Connector.Start(ctx); err != nil && ctx.Err() == nil {
			s.log.Errorf("connector error: %v", err)
		}
	}()
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	return s.Orchestrator.Run(ctx)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.disconnect()
	s.bus.Close()
	return s.store.Close()
}
