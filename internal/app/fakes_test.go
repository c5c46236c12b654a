package app

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_pdr/internal/sensorstream"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes; methods not overridden panic via the nil
// embedded interface.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	messages   []published
	publishErr error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return newFakeToken(c.publishErr)
	}
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return newFakeToken(nil)
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

// stepSensors registers the pulse channel only and hands back the listener.
type stepSensors struct {
	mu       sync.Mutex
	listener func(sensorstream.Sample)
}

func (s *stepSensors) Register(l func(sensorstream.Sample)) ([]sensorstream.Kind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
	return []sensorstream.Kind{sensorstream.KindStepPulse}, nil
}

func (s *stepSensors) Unregister() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = nil
	return nil
}
