package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/rongxinyin/pezzrr-app/core/events"
	"github.com/rongxinyin/pezzrr-app/infra/logger"
)

// InfluxSink writes control-loop records to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return NopSink{}
	}
	return sink
}

// RecordAction writes one command attempt outcome.
func (s *InfluxSink) RecordAction(ev events.ActionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	p := write.NewPointWithMeasurement("control_action").
		AddTag("event_ref", ev.EventRef).
		AddTag("unit_id", ev.UnitID).
		AddTag("action_type", ev.Action.String()).
		AddTag("success", strconv.FormatBool(ev.Success)).
		AddTag("component", "dispatcher").
		AddField("attempt", ev.Attempt).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		AddField("error", errText).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSettlement writes one participant settlement.
func (s *InfluxSink) RecordSettlement(ev events.SettlementEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("settlement").
		AddTag("event_ref", ev.EventRef).
		AddTag("home_id", ev.HomeID).
		AddTag("component", "settlement").
		AddField("performance_score", round3(ev.PerformanceScore)).
		AddField("settlement_kwh", round3(ev.SettlementKWh)).
		AddField("flags", strings.Join(ev.Flags, ",")).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTransition writes one event status transition.
func (s *InfluxSink) RecordTransition(ev events.TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("event_transition").
		AddTag("event_ref", ev.EventRef).
		AddTag("from", ev.From.String()).
		AddTag("to", ev.To.String()).
		AddTag("component", "orchestrator").
		AddField("count", 1).
		SetTime(ev.At)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPlan writes one planning pass.
func (s *InfluxSink) RecordPlan(ev events.PlanEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("curtailment_plan").
		AddTag("event_ref", ev.EventRef).
		AddTag("target_unmet", strconv.FormatBool(ev.TargetUnmet)).
		AddTag("component", "planner").
		AddField("target_kw", round3(ev.TargetKW)).
		AddField("estimated_kw", round3(ev.EstimatedKW)).
		AddField("units", ev.Units).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
