package main

import (
	"context"
	"flag"
	"log"

	"github.com/davidleathers/agent-trust-ledger/internal/api/rest"
	"github.com/davidleathers/agent-trust-ledger/internal/infrastructure/config"
	"github.com/davidleathers/agent-trust-ledger/internal/infrastructure/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	telConfig := telemetry.DefaultConfig()
	telConfig.ServiceName = cfg.Telemetry.ServiceName
	telConfig.ServiceVersion = cfg.Version
	telConfig.Environment = cfg.Environment
	telConfig.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	telConfig.Enabled = cfg.Telemetry.OTLPEndpoint != ""
	telConfig.SamplingRate = cfg.Telemetry.TraceSampling

	provider, err := telemetry.InitializeOpenTelemetry(ctx, telConfig)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(ctx); err != nil {
			log.Printf("Failed to shutdown telemetry: %v", err)
		}
	}()

	server, err := rest.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
