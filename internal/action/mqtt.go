// internal/action/mqtt.go
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

var (
	// ErrNotConnected is returned by Publish while the broker link is down
	ErrNotConnected = errors.New("mqtt not connected")
	// ErrMQTTRunning indicates Start on a sink that is already started
	ErrMQTTRunning = errors.New("mqtt sink already running")
)

// DefaultInitialWait bounds how long Start waits for the first connection
const DefaultInitialWait = 10 * time.Second

// Control payloads accepted on the control topic
const (
	ControlPause  = "pause"
	ControlResume = "resume"
)

// ControlFunc receives pause (true) and resume (false) requests
type ControlFunc func(paused bool)

// MQTTConfig configures an MQTTSink
type MQTTConfig struct {
	Broker      string // e.g. tcp://localhost:1883
	TopicPrefix string
	ClientID    string
	// InitialWait bounds the wait for the first connection (DefaultInitialWait if zero)
	InitialWait time.Duration
}

// EventTopic returns the topic events are published on
func (c MQTTConfig) EventTopic() string {
	return c.TopicPrefix + "/whistle"
}

// ControlTopic returns the topic pause and resume requests arrive on
func (c MQTTConfig) ControlTopic() string {
	return c.TopicPrefix + "/control"
}

// MQTTSink publishes events as JSON and accepts pause/resume requests
type MQTTSink struct {
	config  MQTTConfig
	logger  *slog.Logger
	control ControlFunc

	startMu   sync.Mutex
	mu        sync.RWMutex
	cm        *autopaho.ConnectionManager
	cancel    context.CancelFunc
	connected bool
}

// NewMQTTSink creates an unconnected sink. control may be nil.
func NewMQTTSink(cfg MQTTConfig, control ControlFunc, logger *slog.Logger) *MQTTSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MQTTSink{
		config:  cfg,
		control: control,
		logger:  logger.With("component", "mqtt"),
	}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Start connects to the broker and waits up to InitialWait for the first
// connection. An unreachable broker is not an error: the connection keeps
// retrying in the background and Publish returns ErrNotConnected until it is
// up. Start fails only if ctx ends first.
func (s *MQTTSink) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.RLock()
	running := s.cm != nil
	s.mu.RUnlock()
	if running {
		return ErrMQTTRunning
	}

	serverURL, err := url.Parse(s.config.Broker)
	if err != nil {
		return fmt.Errorf("mqtt: invalid broker URL: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		ConnectTimeout:                10 * time.Second,

		ReconnectBackoff: autopaho.NewExponentialBackoff(
			1*time.Second,
			60*time.Second,
			2*time.Second,
			2.0,
		),

		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			s.setConnected(true)
			s.logger.Info("connected", "broker", s.config.Broker)
			s.subscribe(cm)
		},

		OnConnectionDown: func() bool {
			s.setConnected(false)
			s.logger.Warn("connection lost, will reconnect")
			return true
		},

		OnConnectError: func(err error) {
			s.logger.Warn("connect error", "error", err)
		},

		ClientConfig: paho.ClientConfig{
			ClientID: s.config.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					s.onMessage(pr.Packet)
					return true, nil
				},
			},
		},
	}

	cm, err := autopaho.NewConnection(connCtx, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("mqtt: create connection: %w", err)
	}

	wait := s.config.InitialWait
	if wait <= 0 {
		wait = DefaultInitialWait
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, wait)
	err = cm.AwaitConnection(waitCtx)
	cancelWait()
	if err != nil {
		if ctx.Err() != nil {
			cancel()
			return fmt.Errorf("mqtt: initial connection failed: %w", ctx.Err())
		}
		s.logger.Warn("broker not reachable yet, events are dropped until connected",
			"broker", s.config.Broker, "waited", wait)
	}

	s.mu.Lock()
	s.cm = cm
	s.cancel = cancel
	s.mu.Unlock()
	return nil
}

// subscribe (re)subscribes to the control topic after each connection
func (s *MQTTSink) subscribe(cm *autopaho.ConnectionManager) {
	if s.control == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topic := s.config.ControlTopic()
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: 1},
		},
	})
	if err != nil {
		s.logger.Warn("subscribe failed", "topic", topic, "error", err)
		return
	}
	s.logger.Debug("subscribed", "topic", topic)
}

func (s *MQTTSink) onMessage(pub *paho.Publish) {
	if pub == nil || pub.Topic != s.config.ControlTopic() || s.control == nil {
		return
	}

	switch cmd := strings.ToLower(strings.TrimSpace(string(pub.Payload))); cmd {
	case ControlPause:
		s.control(true)
	case ControlResume:
		s.control(false)
	default:
		s.logger.Warn("unknown control command", "topic", pub.Topic, "payload", cmd)
	}
}

// Publish sends event as JSON with QoS 1
func (s *MQTTSink) Publish(ctx context.Context, event Event) error {
	s.mu.RLock()
	cm := s.cm
	connected := s.connected
	s.mu.RUnlock()

	if cm == nil || !connected {
		return ErrNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("mqtt: marshal event: %w", err)
	}

	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   s.config.EventTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt: publish: %w", err)
	}
	return nil
}

// Stop disconnects from the broker
func (s *MQTTSink) Stop() {
	s.mu.Lock()
	cm := s.cm
	cancel := s.cancel
	s.cm = nil
	s.cancel = nil
	s.connected = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cm != nil {
		select {
		case <-cm.Done():
		case <-time.After(5 * time.Second):
		}
	}
}

// IsConnected reports whether the broker connection is up
func (s *MQTTSink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
