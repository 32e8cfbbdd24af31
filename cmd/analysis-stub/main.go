package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/speechcheck/internal/config"
	"github.com/skypro1111/speechcheck/internal/logging"
	"github.com/skypro1111/speechcheck/internal/metrics"
	"github.com/skypro1111/speechcheck/internal/server"
)

const (
	serviceName    = "speechcheck-analysis-stub"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	envFile := flag.String("env-file", ".env", "Dotenv file loaded before the configuration")
	port := flag.Int("port", 0, "Listen port (overrides stub.port)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Stub.Port = *port
		if err := cfg.Stub.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid port: %v\n", err)
			os.Exit(1)
		}
	}

	logger, closer := logging.New(cfg.Logging)
	defer closer.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Stub.Addr()),
		slog.Any("allowed_origins", cfg.Stub.AllowedOrigins),
		slog.Float64("noise_threshold", cfg.Stub.NoiseThreshold),
		slog.Int("max_upload_mb", cfg.Stub.MaxUploadMB),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(registry)

	httpServer, err := server.NewHTTPServer(cfg.Stub, logger, appMetrics, registry)
	if err != nil {
		logger.Error("Failed to create HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", httpServer.Addr()),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	stats := httpServer.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("analyses", stats.Analyses),
		slog.Uint64("noisy", stats.Noisy),
		slog.Uint64("domain_errors", stats.DomainErrors),
		slog.Uint64("bytes_received", stats.BytesReceived),
	)

	logger.Info("Service stopped")
}
