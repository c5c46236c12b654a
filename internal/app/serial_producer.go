package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/indoor_pdr/internal/config"
	"github.com/relabs-tech/indoor_pdr/internal/sensorstream"
)

// forwardSentences reads sensor board sentences from r and publishes each
// decoded sample. It returns nil at end of input.
func forwardSentences(r io.Reader, client mqtt.Client, topics map[sensorstream.Kind]string) error {
	dec := sensorstream.NewSentenceDecoder()
	reader := bufio.NewReader(r)

	var published, dropped int
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("serial read: %w", err)
		}
		eof := err != nil

		line = strings.TrimSpace(line)
		// Sentences start with '$'; anything else is boot noise
		if strings.HasPrefix(line, "$") {
			s, derr := dec.Decode(line)
			if derr != nil {
				// noisy link or a partial sentence
				dropped++
			} else if perr := publishSample(client, topics, s); perr != nil {
				log.Printf("serial producer: %v", perr)
			} else {
				published++
			}
		}

		if eof {
			log.Printf("serial producer: end of input (%d published, %d dropped)", published, dropped)
			return nil
		}
	}
}

// RunSerialProducer reads a sensor board over a serial port and publishes
// its samples on the sensor topics.
func RunSerialProducer() error {
	log.Println("starting PDR serial producer (sensor board → MQTT)")
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDSerial, nil)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	serialOpts := serial.OpenOptions{
		PortName:              cfg.SensorSerialPort,
		BaudRate:              uint(cfg.SensorSerialBaud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", serialOpts.PortName, err)
	}
	defer port.Close()
	log.Printf("serial producer: port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)

	return forwardSentences(port, client, sensorTopics(cfg))
}
