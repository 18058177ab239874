// Package emitter publishes tracking events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/cameramouse/internal/config"
	"github.com/ayusman/cameramouse/internal/geom"
	"github.com/ayusman/cameramouse/internal/supervisor"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second

	// QueueSize bounds the events waiting for the publisher goroutine.
	QueueSize = 64
)

// MQTTEmitter publishes supervisor events to
// <prefix>/events/<kind> and the current state, retained, to <prefix>/state.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	client mqtt.Client

	queue     chan supervisor.Event
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	dropped   uint64
	connected bool
}

// NewMQTTEmitter creates an emitter for cfg. Call Connect before publishing.
func NewMQTTEmitter(cfg config.MQTTConfig, logger *slog.Logger) *MQTTEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTEmitter{
		cfg:       cfg,
		logger:    logger,
		queue:     make(chan supervisor.Event, QueueSize),
		stop:      make(chan struct{}),
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection. The client reconnects on its
// own after a later connection loss.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", e.cfg.Broker)
	}

	client := mqtt.NewClient(opts)
	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connection cancelled: %w", ctx.Err())
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.client = client
	e.connected = true
	e.mu.Unlock()
	return nil
}

type pointPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type eventPayload struct {
	Kind      string        `json:"kind"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Point     *pointPayload `json:"point,omitempty"`
	Remaining *int          `json:"remaining,omitempty"`
	At        time.Time     `json:"at"`
}

func encodeEvent(ev supervisor.Event) ([]byte, error) {
	p := eventPayload{
		Kind:      string(ev.Kind),
		From:      ev.From.String(),
		To:        ev.To.String(),
		Point:     toPayload(ev.Point),
		Remaining: remainingOf(ev),
		At:        ev.At,
	}
	return json.Marshal(p)
}

func remainingOf(ev supervisor.Event) *int {
	if n, ok := ev.Countdown(); ok {
		return &n
	}
	return nil
}

func toPayload(p geom.Point) *pointPayload {
	if p.IsEmpty() {
		return nil
	}
	return &pointPayload{X: p.X, Y: p.Y}
}

// PublishEvent publishes ev and, on state changes, the retained state.
func (e *MQTTEmitter) PublishEvent(ev supervisor.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := fmt.Sprintf("%s/events/%s", e.cfg.TopicPrefix, ev.Kind)
	if err := e.publish(topic, false, payload); err != nil {
		return err
	}

	if ev.From != ev.To {
		stateTopic := e.cfg.TopicPrefix + "/state"
		if err := e.publish(stateTopic, true, []byte(ev.To.String())); err != nil {
			return err
		}
	}
	return nil
}

func (e *MQTTEmitter) publish(topic string, retained bool, payload []byte) error {
	e.mu.RLock()
	client, connected := e.client, e.connected
	e.mu.RUnlock()

	if client == nil || !connected {
		e.countError()
		return ErrNotConnected
	}

	token := client.Publish(topic, e.cfg.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("event published", "topic", topic, "qos", e.cfg.QoS, "size", len(payload))
	return nil
}

// Listener adapts the emitter to a supervisor listener. Events are
// published in order by a single goroutine so the retained state topic
// always ends on the latest state. The listener never blocks; events are
// dropped when the queue is full.
func (e *MQTTEmitter) Listener() supervisor.Listener {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.run()
	})
	return func(ev supervisor.Event) {
		select {
		case e.queue <- ev:
		default:
			e.mu.Lock()
			e.dropped++
			e.mu.Unlock()
			e.logger.Debug("tracking event dropped", "kind", ev.Kind)
		}
	}
}

func (e *MQTTEmitter) run() {
	defer e.wg.Done()
	for {
		select {
		case ev := <-e.queue:
			e.publishQueued(ev)
		case <-e.stop:
			// Flush what the supervisor emitted before shutdown.
			for {
				select {
				case ev := <-e.queue:
					e.publishQueued(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *MQTTEmitter) publishQueued(ev supervisor.Event) {
	if err := e.PublishEvent(ev); err != nil && !errors.Is(err, ErrNotConnected) {
		e.logger.Warn("failed to publish tracking event", "kind", ev.Kind, "error", err)
	}
}

// Disconnect stops the publisher after it drains queued events and closes
// the MQTT connection.
func (e *MQTTEmitter) Disconnect() error {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()

	e.mu.Lock()
	client := e.client
	e.connected = false
	e.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	return nil
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
		Dropped:   e.dropped,
	}
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
	Dropped   uint64
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
