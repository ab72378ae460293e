package config

// MetricsConfig controls the Prometheus endpoint and the InfluxDB sink.
type MetricsConfig struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// Port returns the Prometheus listen address.
func (c MetricsConfig) Port() string {
	if c.PrometheusPort == "" {
		return ":9090"
	}
	return c.PrometheusPort
}
