package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// sideRow is the part of a side row the monitor prints.
type sideRow struct {
	LoopTime        float64  `json:"loop_time"`
	HipAngle        float64  `json:"hip_angle"`
	GaitPhase       *float64 `json:"gait_phase"`
	CommandedTorque *float64 `json:"commanded_torque"`
	IsClipping      bool     `json:"is_clipping"`
	ControllerState string   `json:"controller_state"`
	BatteryVoltage  int32    `json:"battery_voltage"`
}

type monitorMessage struct {
	Session string          `json:"session"`
	Stream  string          `json:"stream"`
	Data    json.RawMessage `json:"data"`
}

// FormatMonitorLine renders one telemetry message as a console line.
func FormatMonitorLine(payload []byte) (string, error) {
	var m monitorMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", fmt.Errorf("unmarshal message: %w", err)
	}

	if strings.EqualFold(m.Stream, "config") {
		var kv map[string]string
		if err := json.Unmarshal(m.Data, &kv); err != nil {
			return "", fmt.Errorf("unmarshal config: %w", err)
		}
		return fmt.Sprintf("[CONFIG] session=%s task=%s loop_time=%s notes=%q",
			m.Session, kv["task"], kv["loop_time"], kv["experimenter_notes"]), nil
	}

	var s sideRow
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return "", fmt.Errorf("unmarshal %s row: %w", m.Stream, err)
	}
	phase, torque := "  None", "  None"
	if s.GaitPhase != nil {
		phase = fmt.Sprintf("%6.3f", *s.GaitPhase)
	}
	if s.CommandedTorque != nil {
		torque = fmt.Sprintf("%6.2f", *s.CommandedTorque)
	}
	clip := ""
	if s.IsClipping {
		clip = " CLIP"
	}
	return fmt.Sprintf("[%-5s] t=%8.3f hip=%7.2f phase=%s torque=%s state=%-14s batt=%5dmV%s",
		strings.ToUpper(m.Stream), s.LoopTime, s.HipAngle, phase, torque, s.ControllerState, s.BatteryVoltage, clip), nil
}

// RunMonitor subscribes to the exo telemetry topics and prints each row
// until ctx is done.
func RunMonitor(ctx context.Context, broker, clientID, prefix string, out io.Writer) error {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("monitor: connected to MQTT broker at %s", broker)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		line, err := FormatMonitorLine(msg.Payload())
		if err != nil {
			log.Printf("monitor: %s: %v", msg.Topic(), err)
			return
		}
		fmt.Fprintln(out, line)
	}

	topic := prefix + "/#"
	token := client.Subscribe(topic, 0, handler)
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("monitor: subscribed to %s", topic)

	<-ctx.Done()
	log.Println("monitor: shutting down")
	return nil
}
