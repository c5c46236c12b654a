// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/indoor_pdr/internal/config"
	"github.com/relabs-tech/indoor_pdr/internal/walksim"
)

// RunWalkSimulator publishes a synthetic walk on every configured sensor
// topic, for running the PDR service without a phone.
func RunWalkSimulator(cadence time.Duration, turnRate float64) error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDIMU+"-sim", nil)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topics := sensorTopics(cfg)
	walker := walksim.New(time.Now(), cadence, turnRate)
	ticker := time.NewTicker(time.Duration(cfg.IMUSampleInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Printf("walk simulator: cadence %v, turning %.2f rad/s", cadence, turnRate)

	lastLogged := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("walk simulator: stopped after %d steps", walker.Steps())
			return nil
		case t := <-ticker.C:
			for _, s := range walker.Next(t) {
				if err := publishSample(client, topics, s); err != nil {
					log.Printf("walk simulator: %v", err)
				}
			}
			if n := walker.Steps(); n != lastLogged && n%10 == 0 {
				log.Printf("walk simulator: %d steps", n)
				lastLogged = n
			}
		}
	}
}
