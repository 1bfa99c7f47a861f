// Package main is the entry point for the browserd service.
//
// browserd manages long-lived automated browser sessions for the job-search
// assistant: launching and persisting Chrome sessions, executing page
// commands, streaming automation events to viewers, mirroring sessions over
// VNC, and aggregating job listings from outbound providers.
//
// Configuration comes from environment variables (12-factor); a local .env
// file is loaded when present.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jobpilot/browserd/internal/infrastructure/config"
	"github.com/jobpilot/browserd/internal/infrastructure/server"
)

func main() {
	// Missing .env is fine; environment variables still apply.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
