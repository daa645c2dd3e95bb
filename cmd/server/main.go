// Command main is the entry point for the Studyroom session server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studyroom/internal/bootstrap"
	"studyroom/internal/config"
	"studyroom/internal/observability"
	"studyroom/internal/server"
)

// @title Studyroom Session API
// @version 1.0
// @description Realtime chat session layer for the tutoring marketplace: rooms, message log, presence, and WebSocket delivery.
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@studyroom.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8480
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Tracing is optional; a failed exporter should not stop the server
	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "studyroom-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExport,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.SamplerRatio,
	})
	if err != nil {
		log.Printf("Tracing disabled: %v", err)
	}

	// Establish DB/Redis and built-in rooms before serving traffic
	db, redisClient, err := bootstrap.InitRuntime(cfg, bootstrap.Options{
		Migrate:      true,
		SeedBuiltIns: true,
	})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	// Create server with dependency injection
	srv, err := server.NewServerWithDeps(cfg, db, redisClient)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if shutdownTracing != nil {
			if err := shutdownTracing(ctx); err != nil {
				log.Printf("Tracing shutdown error: %v", err)
			}
		}
		os.Exit(0)
	}()

	// Start server (blocks until shutdown)
	if err := srv.Start(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
