package telemetry

import (
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"
)

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes records as JSON to <prefix>/<stream>. Side streams are
// rate limited; config rows always go out, retained.
type MQTTSink struct {
	client  Publisher
	prefix  string
	session string
	limits  map[string]*rate.Limiter
	hz      float64
}

// DialMQTT connects to broker and returns a sink over that connection.
func DialMQTT(broker, clientID, prefix, session string, hz float64) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, token.Error())
	}
	log.Printf("telemetry: connected to MQTT broker at %s", broker)
	return NewMQTTSink(client, prefix, session, hz), nil
}

func NewMQTTSink(client Publisher, prefix, session string, hz float64) *MQTTSink {
	return &MQTTSink{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		session: session,
		limits:  make(map[string]*rate.Limiter),
		hz:      hz,
	}
}

// Topic for a stream.
func (s *MQTTSink) Topic(stream string) string {
	return s.prefix + "/" + strings.ToLower(stream)
}

// Write does not wait for the broker.
func (s *MQTTSink) Write(stream string, rec Record) error {
	retained := stream == StreamConfig
	if !retained && !s.allow(stream) {
		return nil
	}
	payload, err := encode(s.session, stream, rec)
	if err != nil {
		return err
	}
	s.client.Publish(s.Topic(stream), 0, retained, payload)
	return nil
}

func (s *MQTTSink) allow(stream string) bool {
	if s.hz <= 0 {
		return true
	}
	l, ok := s.limits[stream]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.hz), 1)
		s.limits[stream] = l
	}
	return l.Allow()
}

func (s *MQTTSink) Flush() error { return nil }

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
