// Package telemetry provides the InfluxDB-backed implementation of the
// telemetry boundary: live unit snapshots for scoring and windowed home
// history for baselines and settlement.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	coretel "github.com/rongxinyin/pezzrr-app/core/telemetry"
	"github.com/rongxinyin/pezzrr-app/infra/logger"
)

// Config configures the InfluxDB telemetry backend.
type Config struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	// Measurement holds per-unit power samples tagged by unit_id and
	// home_id with a power_kw field.
	Measurement string `json:"measurement"`
	// SnapshotWindowSeconds bounds how far back the snapshot query looks
	// for each unit's latest sample.
	SnapshotWindowSeconds int `json:"snapshot_window_seconds"`
	// BaselineDays is how many prior days feed the baseline estimate.
	BaselineDays int `json:"baseline_days"`
}

// SetDefaults applies fallback values for optional fields.
func (c *Config) SetDefaults() {
	if c.Measurement == "" {
		c.Measurement = "unit_power"
	}
	if c.SnapshotWindowSeconds <= 0 {
		c.SnapshotWindowSeconds = 900
	}
	if c.BaselineDays <= 0 {
		c.BaselineDays = 10
	}
}

// InfluxProvider reads snapshots and history from InfluxDB.
type InfluxProvider struct {
	client influxdb2.Client
	query  api.QueryAPI
	cfg    Config
	log    logger.Logger
}

// NewInfluxProvider creates a provider for the given InfluxDB endpoint.
func NewInfluxProvider(cfg Config) *InfluxProvider {
	cfg.SetDefaults()
	base := strings.TrimSuffix(cfg.URL, "/api/v2/query")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 10 * time.Second}))
	return &InfluxProvider{
		client: client,
		query:  client.QueryAPI(cfg.Org),
		cfg:    cfg,
		log:    logger.New("influx-telemetry"),
	}
}

// NewInfluxProviderWithFallback pings the InfluxDB instance and returns an
// always-failing provider when the health check does not pass. Scoring and
// activation treat a failing provider as missing data, never as zero load.
func NewInfluxProviderWithFallback(cfg Config) (coretel.Provider, coretel.HistoryReader) {
	p := NewInfluxProvider(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := p.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			p.log.Errorf("influx health check error: %v", err)
		} else {
			p.log.Errorf("influx health status: %s", health.Status)
		}
		p.client.Close()
		u := Unavailable{}
		return u, u
	}
	return p, p
}

// Snapshot returns the latest sample per unit within the snapshot window.
func (p *InfluxProvider) Snapshot(ctx context.Context) (coretel.Snapshot, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %q and r._field == "power_kw")
  |> group(columns: ["unit_id"])
  |> last()`, p.cfg.Bucket, p.cfg.SnapshotWindowSeconds, p.cfg.Measurement)

	res, err := p.query.Query(ctx, flux)
	if err != nil {
		return coretel.Snapshot{}, fmt.Errorf("snapshot query: %w", err)
	}
	defer func() {
		if cerr := res.Close(); cerr != nil {
			p.log.Warnf("close snapshot result: %v", cerr)
		}
	}()

	snap := coretel.Snapshot{Taken: time.Now(), Readings: make(map[string]coretel.Reading)}
	for res.Next() {
		rec := res.Record()
		unitID, _ := rec.ValueByKey("unit_id").(string)
		if unitID == "" {
			continue
		}
		kw, ok := rec.Value().(float64)
		if !ok {
			continue
		}
		state, _ := rec.ValueByKey("state").(string)
		snap.Readings[unitID] = coretel.Reading{
			UnitID:    unitID,
			PowerKW:   kw,
			State:     state,
			Timestamp: rec.Time(),
		}
	}
	if err := res.Err(); err != nil {
		return coretel.Snapshot{}, fmt.Errorf("snapshot result: %w", err)
	}
	return snap, nil
}

// MeanPowerKW returns the mean whole-home power over [start, end).
func (p *InfluxProvider) MeanPowerKW(ctx context.Context, homeID string, start, end time.Time) (float64, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r._field == "power_kw" and r.home_id == %q)
  |> group()
  |> mean()`, p.cfg.Bucket, start.Format(time.RFC3339), end.Format(time.RFC3339), p.cfg.Measurement, homeID)

	v, found, err := p.scalar(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("mean power for home %s: %w", homeID, err)
	}
	if !found {
		return 0, fmt.Errorf("no samples for home %s in [%s, %s)", homeID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return v, nil
}

// BaselineKW estimates the home's counterfactual load as the mean power over
// the same clock hour across the prior days.
func (p *InfluxProvider) BaselineKW(ctx context.Context, homeID string, asOf time.Time) (float64, bool, error) {
	start := asOf.AddDate(0, 0, -p.cfg.BaselineDays)
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r._field == "power_kw" and r.home_id == %q)
  |> hourSelection(start: %d, stop: %d)
  |> group()
  |> mean()`, p.cfg.Bucket, start.Format(time.RFC3339), asOf.Format(time.RFC3339),
		p.cfg.Measurement, homeID, asOf.Hour(), asOf.Hour())

	v, found, err := p.scalar(ctx, flux)
	if err != nil {
		return 0, false, fmt.Errorf("baseline for home %s: %w", homeID, err)
	}
	return v, found, nil
}

func (p *InfluxProvider) scalar(ctx context.Context, flux string) (float64, bool, error) {
	res, err := p.query.Query(ctx, flux)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if cerr := res.Close(); cerr != nil {
			p.log.Warnf("close query result: %v", cerr)
		}
	}()
	if !res.Next() {
		return 0, false, res.Err()
	}
	v, ok := res.Record().Value().(float64)
	if !ok {
		return 0, false, fmt.Errorf("non-numeric result %v", res.Record().Value())
	}
	return v, true, res.Err()
}

// Close releases the underlying client.
func (p *InfluxProvider) Close() { p.client.Close() }

// Unavailable is the fallback telemetry backend. Every call fails, which the
// engine treats as missing data.
type Unavailable struct{}

func (Unavailable) Snapshot(context.Context) (coretel.Snapshot, error) {
	return coretel.Snapshot{}, fmt.Errorf("telemetry backend unavailable")
}

func (Unavailable) MeanPowerKW(context.Context, string, time.Time, time.Time) (float64, error) {
	return 0, fmt.Errorf("telemetry backend unavailable")
}

func (Unavailable) BaselineKW(context.Context, string, time.Time) (float64, bool, error) {
	return 0, false, fmt.Errorf("telemetry backend unavailable")
}
