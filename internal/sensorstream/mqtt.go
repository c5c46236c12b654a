package sensorstream

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_pdr/internal/monitoring"
)

// DefaultSubscribeTimeout bounds how long Register waits for the broker.
const DefaultSubscribeTimeout = 5 * time.Second

// MQTTSensors registers a listener on the per-channel sensor topics. A channel
// with an empty topic is treated as a sensor the device does not have.
//
// Register waits for the SUBACK. Unregister does not wait for the UNSUBACK,
// so it is safe to call from inside a message handler.
type MQTTSensors struct {
	client  mqtt.Client
	topics  map[Kind]string
	timeout time.Duration

	mu         sync.Mutex
	subscribed []string
}

// NewMQTTSensors wraps a connected client.
func NewMQTTSensors(client mqtt.Client, topics map[Kind]string) *MQTTSensors {
	t := make(map[Kind]string, len(topics))
	for k, topic := range topics {
		t[k] = topic
	}
	return &MQTTSensors{
		client:  client,
		topics:  t,
		timeout: DefaultSubscribeTimeout,
	}
}

// Available lists the channels that have a topic configured.
func (m *MQTTSensors) Available() []Kind {
	var kinds []Kind
	for _, k := range Kinds {
		if m.topics[k] != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Register subscribes to every configured sensor topic and delivers decoded
// samples to listener. It returns the channels that were subscribed.
func (m *MQTTSensors) Register(listener func(Sample)) ([]Kind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.subscribed) > 0 {
		return nil, fmt.Errorf("sensorstream: already registered on %v", m.subscribed)
	}

	kinds := m.Available()
	if len(kinds) == 0 {
		return nil, nil
	}

	byTopic := make(map[string]Kind, len(kinds))
	filters := make(map[string]byte, len(kinds))
	for _, k := range kinds {
		byTopic[m.topics[k]] = k
		filters[m.topics[k]] = 0
	}

	token := m.client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		s, err := Decode(msg.Payload())
		if err != nil {
			monitoring.Logf("sensorstream: dropping sample on %s: %v", msg.Topic(), err)
			return
		}
		if want, ok := byTopic[msg.Topic()]; ok && s.Kind != want {
			monitoring.Logf("sensorstream: dropping %s sample published on %s topic", s.Kind, want)
			return
		}
		listener(s)
	})
	topics := make([]string, 0, len(filters))
	for topic := range filters {
		topics = append(topics, topic)
	}

	// The SUBSCRIBE may have reached the broker even when we give up on it.
	if !token.WaitTimeout(m.timeout) {
		m.unsubscribe(topics)
		return nil, fmt.Errorf("sensorstream: subscribe timed out after %v", m.timeout)
	}
	if err := token.Error(); err != nil {
		m.unsubscribe(topics)
		return nil, fmt.Errorf("sensorstream: subscribe: %w", err)
	}

	m.subscribed = topics
	monitoring.Logf("sensorstream: subscribed to %d sensor topics", len(filters))
	return kinds, nil
}

// Unregister drops every subscription made by Register.
func (m *MQTTSensors) Unregister() error {
	m.mu.Lock()
	topics := m.subscribed
	m.subscribed = nil
	m.mu.Unlock()

	if len(topics) == 0 {
		return nil
	}
	m.unsubscribe(topics)
	return nil
}

// unsubscribe sends an UNSUBSCRIBE and logs its outcome in the background.
func (m *MQTTSensors) unsubscribe(topics []string) {
	token := m.client.Unsubscribe(topics...)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			monitoring.Logf("sensorstream: unsubscribe %v: %v", topics, err)
		}
	}()
}
