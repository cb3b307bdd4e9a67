package mqttlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	mqtt.Token
	done chan struct{}
	err  error
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mqtt.Client
	mu          sync.Mutex
	connected   bool
	connectErr  error
	published   []message
	disconnects int
	// pending holds Connect until it is completed by finishConnect
	hang    bool
	pending *fakeToken
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hang {
		c.pending = &fakeToken{done: make(chan struct{})}
		return c.pending
	}
	if c.connectErr == nil {
		c.connected = true
	}
	return newFakeToken(c.connectErr)
}

// finishConnect lets a hanging connect succeed.
func (c *fakeClient) finishConnect() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	close(c.pending.done)
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.connected = false
}

func (c *fakeClient) counts() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected, c.disconnects
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.published = append(c.published, message{topic: topic, payload: payload.([]byte)})
	return newFakeToken(nil)
}

func TestWriter(t *testing.T) {
	t.Parallel()

	c := &fakeClient{}
	w := NewWriter(c, "logs/sensor-node")
	logger := slog.New(slog.NewTextHandler(w, nil))

	logger.Info("dropped")
	assert.Empty(t, c.published)

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	logger.Info("Sleeping", "duration", 300*time.Second)
	require.Len(t, c.published, 1)
	assert.Equal(t, "logs/sensor-node", c.published[0].topic)
	assert.Contains(t, string(c.published[0].payload), "msg=Sleeping duration=5m0s")
}

func TestSink(t *testing.T) {
	t.Parallel()

	t.Run("connects for the session", func(t *testing.T) {
		t.Parallel()

		c := &fakeClient{}
		s := NewSink(c, Config{})
		s.SessionUp(context.Background(), nil)
		connected, _ := c.counts()
		assert.True(t, connected)
		s.SessionDown()
		connected, disconnects := c.counts()
		assert.False(t, connected)
		assert.Equal(t, 1, disconnects)
	})
	t.Run("broker unavailable", func(t *testing.T) {
		t.Parallel()

		for _, c := range []*fakeClient{{connectErr: errors.New("connection refused")}, {hang: true}} {
			s := NewSink(c, Config{Timeout: time.Millisecond})
			s.SessionUp(context.Background(), nil)
			s.SessionDown()
			_, disconnects := c.counts()
			assert.Zero(t, disconnects, fmt.Sprint(c.connectErr))
		}
	})
	t.Run("late connect after session down", func(t *testing.T) {
		t.Parallel()

		c := &fakeClient{hang: true}
		s := NewSink(c, Config{Timeout: time.Millisecond})
		s.SessionUp(context.Background(), nil)
		s.SessionDown()
		c.finishConnect()
		assert.Eventually(t, func() bool {
			connected, disconnects := c.counts()
			return !connected && disconnects == 1
		}, time.Second, time.Millisecond)
	})
	t.Run("late connect within session", func(t *testing.T) {
		t.Parallel()

		c := &fakeClient{hang: true}
		s := NewSink(c, Config{Timeout: time.Millisecond})
		s.SessionUp(context.Background(), nil)
		c.finishConnect()
		// the connect is kept until the session goes down
		assert.Never(t, func() bool {
			_, disconnects := c.counts()
			return disconnects > 0
		}, 50*time.Millisecond, 5*time.Millisecond)
		s.SessionDown()
		connected, disconnects := c.counts()
		assert.False(t, connected)
		assert.Equal(t, 1, disconnects)
	})
}
