package app

import (
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_pdr/internal/config"
	"github.com/relabs-tech/indoor_pdr/internal/sensorstream"
)

// connectMQTT connects to the broker. configure may adjust the options
// before connecting.
func connectMQTT(broker, clientID string, configure func(*mqtt.ClientOptions)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	if configure != nil {
		configure(opts)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect to %s: %w", broker, token.Error())
	}
	log.Printf("connected to MQTT broker at %s as %s", broker, clientID)
	return client, nil
}

// sensorTopics maps each sensor channel to its configured topic.
func sensorTopics(cfg *config.Config) map[sensorstream.Kind]string {
	return map[sensorstream.Kind]string{
		sensorstream.KindStepPulse:   cfg.TopicStepPulse,
		sensorstream.KindStepCounter: cfg.TopicStepCounter,
		sensorstream.KindAccel:       cfg.TopicAccel,
		sensorstream.KindRotation:    cfg.TopicRotation,
	}
}

// publishSample publishes s on the topic for its kind. Kinds without a
// topic are skipped.
func publishSample(client mqtt.Client, topics map[sensorstream.Kind]string, s sensorstream.Sample) error {
	topic := topics[s.Kind]
	if topic == "" {
		return nil
	}
	payload, err := sensorstream.Encode(s)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT publish (%s): %w", topic, token.Error())
	}
	return nil
}
