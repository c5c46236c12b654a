package sensorstream

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err     error
	pending bool
	done    chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeClient records subscriptions; methods not overridden panic via the nil
// embedded interface.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	filters      map[string]byte
	handler      mqtt.MessageHandler
	unsubscribed []string
	subErr       error
	subPending   bool
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return newFakeToken(c.subErr)
	}
	c.filters = filters
	c.handler = cb
	if c.subPending {
		return &fakeToken{pending: true, done: make(chan struct{})}
	}
	return newFakeToken(nil)
}

func (c *fakeClient) unsubscribedTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := append([]string(nil), c.unsubscribed...)
	sort.Strings(topics)
	return topics
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	c.filters = nil
	return newFakeToken(nil)
}

func (c *fakeClient) deliver(topic string, s Sample) {
	payload, err := Encode(s)
	if err != nil {
		panic(err)
	}
	c.handler(c, fakeMessage{topic: topic, payload: payload})
}

func testTopics() map[Kind]string {
	return map[Kind]string{
		KindStepPulse:   "",
		KindStepCounter: "pdr/sensor/step_counter",
		KindAccel:       "pdr/sensor/accel",
		KindRotation:    "pdr/sensor/rotation",
	}
}

func TestMQTTSensorsRegister(t *testing.T) {
	client := &fakeClient{}
	sensors := NewMQTTSensors(client, testTopics())

	var got []Sample
	kinds, err := sensors.Register(func(s Sample) { got = append(got, s) })
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindStepCounter, KindAccel, KindRotation}, kinds)
	assert.Len(t, client.filters, 3)
	assert.NotContains(t, client.filters, "")

	client.deliver("pdr/sensor/accel", Acceleration(t0, 0, 0, 11))
	client.deliver("pdr/sensor/accel", StepCounterTotal(t0, 3)) // wrong topic for kind
	client.handler(client, fakeMessage{topic: "pdr/sensor/rotation", payload: []byte("{")})
	client.deliver("pdr/sensor/step_counter", StepCounterTotal(t0, 3))

	require.Len(t, got, 2)
	assert.Equal(t, KindAccel, got[0].Kind)
	assert.Equal(t, KindStepCounter, got[1].Kind)

	_, err = sensors.Register(func(Sample) {})
	assert.Error(t, err, "double registration")

	require.NoError(t, sensors.Unregister())
	sort.Strings(client.unsubscribed)
	assert.Equal(t, []string{"pdr/sensor/accel", "pdr/sensor/rotation", "pdr/sensor/step_counter"}, client.unsubscribed)

	require.NoError(t, sensors.Unregister(), "second unregister is a no-op")
	assert.Len(t, client.unsubscribed, 3)
}

func TestMQTTSensorsNoTopics(t *testing.T) {
	client := &fakeClient{}
	sensors := NewMQTTSensors(client, map[Kind]string{})

	kinds, err := sensors.Register(func(Sample) {})
	require.NoError(t, err)
	assert.Empty(t, kinds)
	assert.Nil(t, client.handler)
	assert.NoError(t, sensors.Unregister())
}

func TestMQTTSensorsSubscribeError(t *testing.T) {
	client := &fakeClient{subErr: errors.New("not authorized")}
	sensors := NewMQTTSensors(client, testTopics())

	_, err := sensors.Register(func(Sample) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
	assert.Equal(t, []string{"pdr/sensor/accel", "pdr/sensor/rotation", "pdr/sensor/step_counter"}, client.unsubscribedTopics())

	assert.NoError(t, sensors.Unregister())
	assert.Len(t, client.unsubscribedTopics(), 3, "nothing left to release")
}

func TestMQTTSensorsSubscribeTimeoutReleasesTopics(t *testing.T) {
	client := &fakeClient{subPending: true}
	sensors := NewMQTTSensors(client, testTopics())

	_, err := sensors.Register(func(Sample) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, []string{"pdr/sensor/accel", "pdr/sensor/rotation", "pdr/sensor/step_counter"}, client.unsubscribedTopics())

	client.subPending = false
	kinds, err := sensors.Register(func(Sample) {})
	require.NoError(t, err, "a failed attempt does not count as registered")
	assert.Len(t, kinds, 3)
}
