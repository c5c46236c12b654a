package app

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_pdr/internal/config"
	"github.com/relabs-tech/indoor_pdr/internal/pdr"
	"github.com/relabs-tech/indoor_pdr/internal/sensorstream"
)

func formatSnapshot(s pdr.Snapshot) string {
	line := fmt.Sprintf(
		"[PDR ]  state=%-14s steps=%d/%d tracked=%d pos=(%7.1f,%7.1f) stride=%5.1f heading=%6.1f°",
		s.State, s.StepsTaken, s.TargetSteps, s.TrackedSteps,
		s.Current.X, s.Current.Y, s.Stride, s.Heading*180/math.Pi,
	)
	if s.Warning != "" {
		line += "  ! " + s.Warning
	}
	return line
}

func formatSample(s sensorstream.Sample) string {
	switch s.Kind {
	case sensorstream.KindStepPulse:
		return "[STEP]  pulse"
	case sensorstream.KindStepCounter:
		return fmt.Sprintf("[STEP]  counter total=%.0f", s.Total())
	case sensorstream.KindAccel:
		x, y, z := s.Accel()
		return fmt.Sprintf("[ACC ]  ax=%7.2f ay=%7.2f az=%7.2f |a|=%6.2f", x, y, z, math.Sqrt(x*x+y*y+z*z))
	case sensorstream.KindRotation:
		parts := make([]string, len(s.Values))
		for i, v := range s.Values {
			parts[i] = fmt.Sprintf("%.4f", v)
		}
		return "[ROT ]  " + strings.Join(parts, " ")
	}
	return fmt.Sprintf("[%s] %v", s.Kind, s.Values)
}

// RunConsole prints PDR snapshots and, when verbose, every sensor sample.
func RunConsole(verbose bool) error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole, nil)
	if err != nil {
		return err
	}

	if cfg.TopicPDRState != "" {
		token := client.Subscribe(cfg.TopicPDRState, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var s pdr.Snapshot
			if err := json.Unmarshal(msg.Payload(), &s); err != nil {
				log.Printf("console: snapshot unmarshal error: %v", err)
				return
			}
			fmt.Println(formatSnapshot(s))
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", cfg.TopicPDRState)
	}

	if verbose {
		for kind, topic := range sensorTopics(cfg) {
			if topic == "" {
				continue
			}
			kind := kind
			token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				s, err := sensorstream.Decode(msg.Payload())
				if err != nil {
					log.Printf("console: %s sample error: %v", kind, err)
					return
				}
				fmt.Println(formatSample(s))
			})
			token.Wait()
			if token.Error() != nil {
				return token.Error()
			}
			log.Printf("console: subscribed to %s", topic)
		}
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
