// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/indoor_pdr/internal/app"
	"github.com/relabs-tech/indoor_pdr/internal/config"
)

func main() {
	configPath := flag.String("config", "./pdr_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting indoor-pdr service (MQTT sensors → session → web)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunPDR(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
