package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsIngested     *prometheus.CounterVec
	eventsTransitioned *prometheus.CounterVec
	activeEvents       prometheus.Gauge
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Gauge) {
	ingested := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dr_events_ingested_total",
			Help: "Number of demand-response events accepted at ingestion",
		},
		[]string{"signal_type"},
	)
	trans := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dr_event_transitions_total",
			Help: "Number of event state transitions",
		},
		[]string{"to"},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dr_events_active",
			Help: "Number of events currently active",
		},
	)
	return ingested, trans, active
}

func init() {
	eventsIngested, eventsTransitioned, activeEvents = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers orchestrator metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(eventsIngested, eventsTransitioned, activeEvents)
}

// ResetMetrics reinitializes collectors for testing purposes and registers
// them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	eventsIngested, eventsTransitioned, activeEvents = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
