package vtn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/orchestrator"
	"github.com/rongxinyin/pezzrr-app/infra/logger"
	"github.com/rongxinyin/pezzrr-app/infra/mqtt"
)

var (
	signalsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vtn_signals_received_total",
		Help: "DR signals received from the head-end",
	}, []string{"signal_type"})
	signalsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vtn_signals_rejected_total",
		Help: "DR signals rejected at validation",
	})
)

func init() {
	prometheus.MustRegister(signalsReceived, signalsRejected)
}

// cancelNotice is the wire payload for an event cancellation.
type cancelNotice struct {
	Reference   string `json:"event_reference"`
	CancelledBy string `json:"cancelled_by"`
}

// MQTTConnector subscribes to the head-end signal topics and forwards notices
// to the orchestrator.
type MQTTConnector struct {
	cfg  Config
	cli  paho.Client
	sink Sink
	log  logger.Logger
}

// NewMQTTConnector connects to the broker with its own session. The intake
// stays subscribed across reconnects.
func NewMQTTConnector(cfg Config, mqttCfg mqtt.Config, sink Sink) (*MQTTConnector, error) {
	log := logger.New("vtn")
	mqttCfg.ClientID = mqttCfg.ClientID + "-vtn"
	opts, err := mqtt.NewClientOptions(mqttCfg)
	if err != nil {
		return nil, err
	}
	c := &MQTTConnector{cfg: cfg, sink: sink, log: log}
	opts.OnConnect = func(cli paho.Client) {
		log.Infof("VTN intake connected")
		if token := cli.Subscribe(cfg.SignalTopic, 1, c.onSignal); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe %s: %v", cfg.SignalTopic, token.Error())
		}
		if token := cli.Subscribe(cfg.CancelTopic, 1, c.onCancel); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe %s: %v", cfg.CancelTopic, token.Error())
		}
	}
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("vtn connect: %w", token.Error())
	}
	c.cli = cli
	return c, nil
}

// Start blocks until the context is cancelled, then disconnects.
func (c *MQTTConnector) Start(ctx context.Context) error {
	<-ctx.Done()
	c.cli.Disconnect(250)
	return ctx.Err()
}

func (c *MQTTConnector) onSignal(_ paho.Client, msg paho.Message) {
	var n orchestrator.SignalNotice
	if err := json.Unmarshal(msg.Payload(), &n); err != nil {
		signalsRejected.Inc()
		c.log.Errorf("malformed signal payload: %v", err)
		return
	}
	if n.TypeName != "" {
		t, err := model.ParseSignalType(n.TypeName)
		if err != nil {
			signalsRejected.Inc()
			c.log.Errorf("signal %s: %v", n.Reference, err)
			return
		}
		n.Type = t
	}
	if _, err := c.sink.Ingest(n); err != nil {
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			signalsRejected.Inc()
			c.log.Warnf("signal rejected: %v", verr)
			return
		}
		c.log.Errorf("ingest signal %s: %v", n.Reference, err)
		return
	}
	signalsReceived.WithLabelValues(n.Type.String()).Inc()
}

func (c *MQTTConnector) onCancel(_ paho.Client, msg paho.Message) {
	var n cancelNotice
	if err := json.Unmarshal(msg.Payload(), &n); err != nil {
		c.log.Errorf("malformed cancel payload: %v", err)
		return
	}
	by := n.CancelledBy
	if by == "" {
		by = "vtn"
	}
	if err := c.sink.Cancel(n.Reference, by); err != nil {
		c.log.Warnf("cancel %s: %v", n.Reference, err)
	}
}
