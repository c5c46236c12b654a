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

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunSerialProducer(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
