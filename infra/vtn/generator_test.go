package vtn

import (
	"testing"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/model"
)

func TestGeneratorProducesValidNotices(t *testing.T) {
	cfg := Config{
		Mode:               "internal",
		MinDurationSeconds: 600,
		MaxDurationSeconds: 1800,
		MinTargetKW:        10,
		MaxTargetKW:        30,
		SignalTypes:        []string{"load_reduction", "emergency"},
		Seed:               42,
	}
	g := NewGenerator(cfg, nil)
	now := time.Date(2025, 7, 1, 17, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		n := g.Generate(now)
		if n.Reference == "" || seen[n.Reference] {
			t.Fatalf("reference not unique: %q", n.Reference)
		}
		seen[n.Reference] = true
		if n.TargetKW < 10 || n.TargetKW > 30 {
			t.Fatalf("target out of range: %f", n.TargetKW)
		}
		d := n.End.Sub(n.Start)
		if d < 600*time.Second || d > 1800*time.Second {
			t.Fatalf("duration out of range: %s", d)
		}
		if n.Type != model.SignalLoadReduction && n.Type != model.SignalEmergency {
			t.Fatalf("unexpected signal type %s", n.Type)
		}
		if n.TypeName != n.Type.String() {
			t.Fatalf("type name mismatch: %s vs %s", n.TypeName, n.Type)
		}
	}
}

func TestGeneratorDeterministicWithSeed(t *testing.T) {
	cfg := Config{SignalTypes: []string{"load_reduction"}, Seed: 7}
	now := time.Date(2025, 7, 1, 17, 0, 0, 0, time.UTC)
	a := NewGenerator(cfg, nil).Generate(now)
	b := NewGenerator(cfg, nil).Generate(now)
	if a.TargetKW != b.TargetKW || !a.End.Equal(b.End) {
		t.Fatalf("generator not deterministic: %+v vs %+v", a, b)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", func() Config { var c Config; c.SetDefaults(); return c }(), false},
		{"bad mode", Config{Mode: "carrier-pigeon"}, true},
		{"inverted interval", Config{MinIntervalSeconds: 900, MaxIntervalSeconds: 300}, true},
		{"inverted target", Config{MinTargetKW: 50, MaxTargetKW: 5}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
