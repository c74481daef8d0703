package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sandprobe/internal/config"
	"sandprobe/internal/logging"
	"sandprobe/internal/mockserver"
)

func main() {
	cfgFile := flag.String("config", "", "YAML config file path")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.ValidateMockServer(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}

	catalog := mockserver.DefaultCatalog().Merge(mockserver.Catalog(cfg.MockPlugins))
	server := mockserver.New(catalog, cfg.MockFrameRate, logger)

	go func() {
		if err := server.ListenAndServe(cfg.MockAddr); err != nil {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down mock plugin server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Server exited")
}
