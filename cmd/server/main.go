package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/goldfeed/internal/config"
	"github.com/ksred/goldfeed/internal/server"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
}

// main loads configuration, starts the price feed and serves the API until
// SIGINT or SIGTERM, then shuts down gracefully
func main() {
	configFile := flag.String("config", "", "path to a config file (default ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Set global log level; DEBUG=true overrides log.level
	zerolog.SetGlobalLevel(cfg.LogLevel())
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize server")
	}
	srv.Start(ctx)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	cancel()

	zlog.Info().Int64("ticks", srv.Ticks()).Msg("Server exiting")
}
