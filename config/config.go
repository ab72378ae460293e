// Package config loads the engine configuration from YAML or JSON files with
// environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rongxinyin/pezzrr-app/core/audit"
	"github.com/rongxinyin/pezzrr-app/core/dispatch"
	"github.com/rongxinyin/pezzrr-app/core/ilc"
	"github.com/rongxinyin/pezzrr-app/core/orchestrator"
	"github.com/rongxinyin/pezzrr-app/core/plan"
	"github.com/rongxinyin/pezzrr-app/infra/mqtt"
	"github.com/rongxinyin/pezzrr-app/infra/telemetry"
	"github.com/rongxinyin/pezzrr-app/infra/vtn"
)

type Config struct {
	MQTT         mqtt.Config         `json:"mqtt"`
	VTN          vtn.Config          `json:"vtn"`
	Telemetry    telemetry.Config    `json:"telemetry"`
	Scoring      ilc.Config          `json:"scoring"`
	Planner      plan.Config         `json:"planner"`
	Dispatch     dispatch.Config     `json:"dispatch"`
	Orchestrator orchestrator.Config `json:"orchestrator"`
	Audit        audit.Config        `json:"audit"`
	Metrics      MetricsConfig       `json:"metrics"`
	Fleet        []UnitConfig        `json:"fleet"`
	// Mock runs the engine against in-memory device and telemetry stubs.
	Mock bool `json:"mock"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("PZ_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "pz_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Audit.SetDefaults()
	cfg.Telemetry.SetDefaults()
	cfg.VTN.SetDefaults()
	if err := cfg.VTN.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Audit.Validate(); err != nil {
		return nil, err
	}
	for _, u := range cfg.Fleet {
		if err := u.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
