package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	"github.com/rongxinyin/pezzrr-app/config"
	"github.com/rongxinyin/pezzrr-app/core/orchestrator"
	"github.com/rongxinyin/pezzrr-app/infra/mqtt"
)

var (
	eventRef      string
	eventType     string
	eventTargetKW float64
	eventLevel    int
	eventMinutes  int
	eventDelay    int
	eventTest     bool
	cancelBy      string
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event related commands",
}

var eventEmitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Publish a demand-response signal to the engine",
	RunE:  runEventEmit,
}

var eventCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running event",
	RunE:  runEventCancel,
}

func init() {
	eventEmitCmd.Flags().StringVar(&eventRef, "ref", "", "event reference (defaults to a timestamped one)")
	eventEmitCmd.Flags().StringVar(&eventType, "type", "load_reduction", "signal type")
	eventEmitCmd.Flags().Float64Var(&eventTargetKW, "target-kw", 0, "demand reduction target in kW")
	eventEmitCmd.Flags().IntVar(&eventLevel, "level", 0, "signal level, used when no target is given")
	eventEmitCmd.Flags().IntVar(&eventMinutes, "minutes", 60, "event duration in minutes")
	eventEmitCmd.Flags().IntVar(&eventDelay, "delay", 0, "minutes until the event starts")
	eventEmitCmd.Flags().BoolVar(&eventTest, "test", false, "mark the event as a test event")
	eventCancelCmd.Flags().StringVar(&eventRef, "ref", "", "event reference")
	eventCancelCmd.Flags().StringVar(&cancelBy, "by", "operator", "who requested the cancellation")
	eventCmd.AddCommand(eventEmitCmd)
	eventCmd.AddCommand(eventCancelCmd)
	rootCmd.AddCommand(eventCmd)
}

func vtnPublisher() (paho.Client, *config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("event-cli-%d", time.Now().UnixNano())
	opts, err := mqtt.NewClientOptions(mqttCfg)
	if err != nil {
		return nil, nil, err
	}
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("connect: %w", token.Error())
	}
	return cli, cfg, nil
}

func runEventEmit(cmd *cobra.Command, args []string) error {
	cli, cfg, err := vtnPublisher()
	if err != nil {
		return err
	}
	defer cli.Disconnect(250)

	ref := eventRef
	if ref == "" {
		ref = fmt.Sprintf("cli-%d", time.Now().Unix())
	}
	start := time.Now().Add(time.Duration(eventDelay) * time.Minute)
	notice := orchestrator.SignalNotice{
		Reference: ref,
		TypeName:  eventType,
		Level:     eventLevel,
		TargetKW:  eventTargetKW,
		Start:     start,
		End:       start.Add(time.Duration(eventMinutes) * time.Minute),
		Test:      eventTest,
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	if token := cli.Publish(cfg.VTN.SignalTopic, 1, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish: %w", token.Error())
	}
	fmt.Printf("published event %s to %s\n", ref, cfg.VTN.SignalTopic)
	return nil
}

func runEventCancel(cmd *cobra.Command, args []string) error {
	if eventRef == "" {
		return fmt.Errorf("--ref is required")
	}
	cli, cfg, err := vtnPublisher()
	if err != nil {
		return err
	}
	defer cli.Disconnect(250)

	payload, err := json.Marshal(map[string]string{
		"event_reference": eventRef,
		"cancelled_by":    cancelBy,
	})
	if err != nil {
		return err
	}
	if token := cli.Publish(cfg.VTN.CancelTopic, 1, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish: %w", token.Error())
	}
	fmt.Printf("published cancellation for %s to %s\n", eventRef, cfg.VTN.CancelTopic)
	return nil
}
