package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lifeline/internal/app"
	"lifeline/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("lifeline: %v", err)
	}
}

func run() error {
	// Precedence: config file > environment > defaults
	cfg := config.LoadConfigWithPrecedence(os.Getenv("LIFELINE_CONFIG_FILE"))

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	if err := application.Start(); err != nil {
		return err
	}

	// Block until an interrupt or termination signal arrives
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return application.Stop(ctx)
}
