package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_pdr/internal/config"
	"github.com/relabs-tech/indoor_pdr/internal/sensors"
	"github.com/relabs-tech/indoor_pdr/internal/sensorstream"
)

// publishAccel reads one accelerometer sample and publishes it.
func publishAccel(client mqtt.Client, topics map[sensorstream.Kind]string, src sensors.AccelReader, t time.Time) error {
	x, y, z, err := src.ReadAccel()
	if err != nil {
		return err
	}
	return publishSample(client, topics, sensorstream.Acceleration(t, x, y, z))
}

// RunIMUProducer samples an SPI MPU9250 and publishes its accelerometer
// readings on the accel sensor topic.
func RunIMUProducer() error {
	log.Println("starting PDR IMU producer (MPU9250 → MQTT)")

	cfg := config.Get()
	if cfg.TopicAccel == "" {
		return fmt.Errorf("imu producer: TOPIC_ACCEL is not configured")
	}

	src, err := sensors.NewIMUSource(cfg.IMUSPIDevice, cfg.IMUCSPin, cfg.IMUAccelRange)
	if err != nil {
		return fmt.Errorf("failed to initialize IMU: %w", err)
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDIMU, nil)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topics := map[sensorstream.Kind]string{sensorstream.KindAccel: cfg.TopicAccel}
	interval := time.Duration(cfg.IMUSampleInterval) * time.Millisecond
	log.Printf("imu producer: publishing to %s every %v", cfg.TopicAccel, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("imu producer: shutting down")
			return nil
		case t := <-ticker.C:
			if err := publishAccel(client, topics, src, t); err != nil {
				log.Printf("imu producer: %v", err)
			}
		}
	}
}
