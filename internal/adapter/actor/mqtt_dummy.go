package actor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/devbridge2mqtt/internal/config"
	"github.com/berfenger/devbridge2mqtt/internal/metrics"

	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type TestPublishedMessage struct {
	Topic   string
	Payload string
	Retain  bool
}

// TestPublishRecorder is an in-memory MQTTConnection. It accepts every connect,
// subscribe and publish and keeps what was published.
type TestPublishRecorder struct {
	mu           sync.Mutex
	messages     []TestPublishedMessage
	handler      pahomqtt.MessageHandler
	disconnected bool
}

var _ MQTTConnection = (*TestPublishRecorder)(nil)

func (r *TestPublishRecorder) Connect(continuation func(error), _ time.Duration) {
	continuation(nil)
}

func (r *TestPublishRecorder) SubscribeToCommandTopic(handler pahomqtt.MessageHandler, continuation func(error), _ time.Duration) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
	continuation(nil)
}

func (r *TestPublishRecorder) Publish(topic string, payload any, _ byte, retain bool, continuation func(error), _ time.Duration) {
	r.mu.Lock()
	r.messages = append(r.messages, TestPublishedMessage{Topic: topic, Payload: fmt.Sprint(payload), Retain: retain})
	r.mu.Unlock()
	continuation(nil)
}

func (r *TestPublishRecorder) Disconnect(_ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
}

func (r *TestPublishRecorder) Disconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

// Deliver hands an incoming message to the command topic handler.
// It reports false when nothing is subscribed yet.
func (r *TestPublishRecorder) Deliver(topic string, payload string) bool {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(nil, &testMessage{topic: topic, payload: []byte(payload)})
	return true
}

func (r *TestPublishRecorder) Messages() []TestPublishedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TestPublishedMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Last returns the last message published to topic.
func (r *TestPublishRecorder) Last(topic string) (TestPublishedMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Topic == topic {
			return r.messages[i], true
		}
	}
	return TestPublishedMessage{}, false
}

func (r *TestPublishRecorder) CountPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if strings.HasPrefix(m.Topic, prefix) {
			n++
		}
	}
	return n
}

type testMessage struct {
	topic   string
	payload []byte
}

func (m *testMessage) Duplicate() bool   { return false }
func (m *testMessage) Qos() byte         { return 0 }
func (m *testMessage) Retained() bool    { return false }
func (m *testMessage) Topic() string     { return m.topic }
func (m *testMessage) MessageID() uint16 { return 0 }
func (m *testMessage) Payload() []byte   { return m.payload }
func (m *testMessage) Ack()              {}

// NewTestMQTTActor builds an MQTT actor that talks to recorder instead of a broker.
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, recorder *TestPublishRecorder, logger *zap.Logger) *MQTTActor {
	act := NewMQTTActor(config, eventStream, metrics.NewMetrics(), logger)
	act.conn = recorder
	return act
}
