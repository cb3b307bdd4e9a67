// Package mqttlog mirrors log output to an MQTT topic while the node has a
// network session.
package mqttlog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/niktheblak/sensor-node/pkg/network"
)

// Writer publishes every write as one message. Writes made while the client
// is disconnected are dropped so logging never blocks the cycle.
type Writer struct {
	client mqtt.Client
	topic  string
}

func NewWriter(client mqtt.Client, topic string) *Writer {
	return &Writer{
		client: client,
		topic:  topic,
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	if !w.client.IsConnectionOpen() {
		return len(p), nil
	}
	// p is reused by the handler after Write returns
	payload := make([]byte, len(p))
	copy(payload, p)
	w.client.Publish(w.topic, 0, false, payload)
	return len(p), nil
}

func NewClient(broker, clientID string) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(5 * time.Second)
	return mqtt.NewClient(opts)
}

type Config struct {
	Timeout time.Duration
	// Logger must not write to the sink itself
	Logger *slog.Logger
}

// Sink connects the client when a session comes up and disconnects it before
// the session is released. A connect that completes after its session is gone
// is disconnected right away.
type Sink struct {
	client  mqtt.Client
	timeout time.Duration
	logger  *slog.Logger

	mu sync.Mutex
	up bool
}

func NewSink(client mqtt.Client, cfg Config) *Sink {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Sink{
		client:  client,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

func (s *Sink) SessionUp(ctx context.Context, sess *network.Session) {
	s.mu.Lock()
	s.up = true
	s.mu.Unlock()
	token := s.client.Connect()
	if !token.WaitTimeout(s.timeout) {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "MQTT log sink connect timed out", slog.Duration("timeout", s.timeout))
		go s.settle(token)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "MQTT log sink connect failed", slog.Any("error", err))
	}
}

func (s *Sink) SessionDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.up = false
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// settle waits for a connect abandoned by SessionUp.
func (s *Sink) settle(token mqtt.Token) {
	<-token.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.up && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
