package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"livedetect/internal/app"
	"livedetect/internal/config"
	"livedetect/internal/logger"
)

func main() {
	cfg := config.Load()
	appLogger := logger.NewLogger(cfg)
	defer appLogger.Close()

	application, err := app.NewApp(cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to start client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		appLogger.Error("Client stopped with error: %v", err)
		os.Exit(1)
	}
	appLogger.Info("👋 Client stopped")
}
