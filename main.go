package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mbeavitt/Harvest/internal"
	"github.com/mbeavitt/Harvest/pkg/logger"
)

var log = logger.Get("Main")

// main loads the user configuration (YAML file plus environment overrides)
// and runs the Harvest server until interrupted.
func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file (omit to configure from environment only)")
	logLevel := flag.Int("log-level", logger.INFO.Level(), "minimum log level (0 = verbose)")
	flag.Parse()

	logger.SetMinLoggingLevel(*logLevel)

	// A missing .env is not an error; it only exists in dev setups.
	godotenv.Load()

	config := internal.HarvestConfig{}
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Fatalf("%s\n", err.Error())
			os.Exit(1)
		}
	} else if err := config.LoadFromEnv(); err != nil {
		log.Fatalf("%s\n", err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Fatalf("Harvest exited with error: %s\n", err.Error())
		os.Exit(1)
	}

	log.Infof("Harvest shut down cleanly\n")
}
