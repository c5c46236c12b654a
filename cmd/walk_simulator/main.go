// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"time"

	"github.com/relabs-tech/indoor_pdr/internal/app"
	"github.com/relabs-tech/indoor_pdr/internal/config"
)

func main() {
	configPath := flag.String("config", "./pdr_config.txt", "path to configuration file")
	cadence := flag.Duration("cadence", 550*time.Millisecond, "time between steps")
	turnRate := flag.Float64("turn", 0.05, "turn rate in rad/s")
	flag.Parse()

	log.Println("starting indoor-pdr walk simulator (mock sensors → MQTT)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunWalkSimulator(*cadence, *turnRate); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
