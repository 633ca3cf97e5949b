// Package notify forwards face and blink events to external systems.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-blinkwatch/internal/log"
	"github.com/teslashibe/go-blinkwatch/pkg/processor"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("notify: mqtt not connected")

// MQTTConfig configures the MQTT emitter.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`      // host:port or URL
	ClientID    string `yaml:"clientId"`    // defaults to "blinkwatch"
	TopicPrefix string `yaml:"topicPrefix"` // defaults to "blinkwatch"
	FaceQoS     byte   `yaml:"faceQos"`
	BlinkQoS    byte   `yaml:"blinkQos"`
	Faces       bool   `yaml:"faces"` // also publish face geometry
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.ClientID == "" {
		c.ClientID = "blinkwatch"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "blinkwatch"
	}
	return c
}

// MQTTEmitter publishes events to <prefix>/faces and <prefix>/blinks.
// It is a processor.FaceSink and processor.BlinkSink; publishing never
// waits for the broker, failures are counted when the token completes.
type MQTTEmitter struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter. Call Connect before use.
func NewMQTTEmitter(cfg MQTTConfig) *MQTTEmitter {
	cfg = cfg.withDefaults()

	e := &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		log.Info("MQTT connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		log.Warn("MQTT connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	e.client = mqtt.NewClient(opts)
	return e
}

// newMQTTEmitterWithClient wires a pre-built client, used by tests.
func newMQTTEmitterWithClient(cfg MQTTConfig, client mqtt.Client) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg.withDefaults(),
		client:    client,
		published: make(map[string]uint64),
		connected: client.IsConnected(),
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection, waiting at most timeout.
func (e *MQTTEmitter) Connect(timeout time.Duration) error {
	log.Info("Connecting to MQTT broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// OnFaces publishes face geometry when enabled.
func (e *MQTTEmitter) OnFaces(ev processor.FaceEvent) {
	if !e.cfg.Faces {
		return
	}
	e.publish(e.cfg.TopicPrefix+"/faces", e.cfg.FaceQoS, ev)
}

// OnBlink publishes a blink event.
func (e *MQTTEmitter) OnBlink(ev processor.BlinkEvent) {
	e.publish(e.cfg.TopicPrefix+"/blinks", e.cfg.BlinkQoS, ev)
}

// Publish marshals v and publishes it to topic.
func (e *MQTTEmitter) Publish(topic string, qos byte, v any) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := e.client.Publish(topic, qos, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			e.countError()
			log.Warn("MQTT publish failed", "topic", topic, "error", err)
			return
		}
		e.mu.Lock()
		e.published[topic]++
		e.mu.Unlock()
	}()
	return nil
}

func (e *MQTTEmitter) publish(topic string, qos byte, v any) {
	if err := e.Publish(topic, qos, v); err != nil {
		log.Debug("Event not published", "topic", topic, "error", err)
	}
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		log.Info("MQTT disconnected")
	}
	e.setConnected(false)
}

// MQTTStats contains emitter statistics
type MQTTStats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() MQTTStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return MQTTStats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
