package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/hip_exo/internal/app"
	"github.com/relabs-tech/hip_exo/internal/config"
)

func main() {
	configPath := flag.String("config", "exo_config.txt", "KEY=VALUE configuration file")
	broker := flag.String("broker", "", "MQTT broker, overrides MQTT_BROKER")
	flag.Parse()

	log.Println("starting hip exo monitor (MQTT subscriber)")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("using defaults: %v", err)
		cfg = config.Default()
	}
	if *broker != "" {
		cfg.MQTTBroker = *broker
	}
	if cfg.MQTTBroker == "" {
		cfg.MQTTBroker = "tcp://localhost:1883"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunMonitor(ctx, cfg.MQTTBroker, cfg.MQTTClientID+"-monitor", cfg.TopicPrefix, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
