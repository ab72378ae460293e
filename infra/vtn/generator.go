package vtn

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/orchestrator"
	"github.com/rongxinyin/pezzrr-app/infra/logger"
)

var (
	generatedSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vtn_generator_signals_total",
		Help: "Synthetic DR signals emitted",
	}, []string{"signal_type"})
	generatedErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vtn_generator_errors_total",
		Help: "Errors while emitting synthetic signals",
	})
)

func init() {
	prometheus.MustRegister(generatedSignals, generatedErrors)
}

// Generator periodically emits synthetic DR events. It stands in for the
// head-end during development and soak testing.
type Generator struct {
	cfg  Config
	sink Sink
	log  logger.Logger
	rand *rand.Rand
	seq  int
}

// NewGenerator creates a Generator.
func NewGenerator(cfg Config, sink Sink) *Generator {
	cfg.SetDefaults()
	return &Generator{
		cfg:  cfg,
		sink: sink,
		log:  logger.New("vtn-generator"),
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Start begins emitting signals until context cancellation.
func (g *Generator) Start(ctx context.Context) error {
	for {
		interval := g.randomInterval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		n := g.Generate(time.Now())
		if _, err := g.sink.Ingest(n); err != nil {
			generatedErrors.Inc()
			g.log.Errorf("emit: %v", err)
			continue
		}
		generatedSignals.WithLabelValues(n.Type.String()).Inc()
		g.log.Infof("emitted %s: %s target=%.1f kW window=%s",
			n.Reference, n.TypeName, n.TargetKW, n.End.Sub(n.Start))
	}
}

// Generate produces a new signal notice starting at the given time.
func (g *Generator) Generate(now time.Time) orchestrator.SignalNotice {
	g.seq++
	typ := g.randomType()
	duration := g.randomDuration()
	return orchestrator.SignalNotice{
		Reference: fmt.Sprintf("gen-%d-%d", now.Unix(), g.seq),
		Type:      typ,
		TypeName:  typ.String(),
		TargetKW:  g.randomFloat(g.cfg.MinTargetKW, g.cfg.MaxTargetKW),
		Start:     now,
		End:       now.Add(duration),
	}
}

func (g *Generator) randomType() model.SignalType {
	s := g.cfg.SignalTypes[g.rand.Intn(len(g.cfg.SignalTypes))]
	t, err := model.ParseSignalType(s)
	if err != nil {
		return model.SignalLoadReduction
	}
	return t
}

func (g *Generator) randomInterval() time.Duration {
	return g.randomDurationBetween(g.cfg.minInterval(), g.cfg.maxInterval())
}

func (g *Generator) randomDuration() time.Duration {
	return g.randomDurationBetween(g.cfg.minDuration(), g.cfg.maxDuration())
}

func (g *Generator) randomDurationBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(g.rand.Int63n(int64(hi-lo)))
}

func (g *Generator) randomFloat(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + g.rand.Float64()*(hi-lo)
}
