package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/coveloop/lighterprobe/internal/config"
	"github.com/coveloop/lighterprobe/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Printf("configuration error: %v", err)
		os.Exit(exitPreflight)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Printf("logger init: %v", err)
		os.Exit(exitPreflight)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	code := run(ctx, cfg, zapLogger)

	stop()
	_ = zapLogger.Sync()
	os.Exit(code)
}
