package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandLatency *prometheus.HistogramVec
	actionsIssued  *prometheus.CounterVec
	ackRate        *prometheus.GaugeVec
	sendSuccess    prometheus.Counter
	sendFailure    prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.GaugeVec, prometheus.Counter, prometheus.Counter) {
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "control_command_latency_seconds",
			Help:    "Latency of control commands from publish to acknowledgment",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action_type"},
	)
	issued := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_actions_issued_total",
			Help: "Number of control command attempts issued",
		},
		[]string{"action_type"},
	)
	ack := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "control_ack_rate",
			Help: "Acknowledgment rate for the last dispatch cycle",
		},
		[]string{"action_type"},
	)
	suc := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adapter_send_success_total",
			Help: "Number of successful adapter send operations",
		},
	)
	fail := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adapter_send_failure_total",
			Help: "Number of failed adapter send operations",
		},
	)
	return lat, issued, ack, suc, fail
}

func init() {
	commandLatency, actionsIssued, ackRate, sendSuccess, sendFailure = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(commandLatency, actionsIssued, ackRate, sendSuccess, sendFailure)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	commandLatency, actionsIssued, ackRate, sendSuccess, sendFailure = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
