package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/realm-tycoon/economy-server/internal/app"
	"github.com/realm-tycoon/economy-server/internal/auth"
	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/handler"
	"github.com/realm-tycoon/economy-server/internal/kafka"
	"github.com/realm-tycoon/economy-server/internal/service"
	"github.com/realm-tycoon/economy-server/internal/websocket"
	"github.com/realm-tycoon/economy-server/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", os.Getenv("ECONOMY_CONFIG"), "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := app.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening backends: %w", err)
	}
	defer backend.Close()
	logger.Info("store ready", "driver", cfg.Store.Driver)

	economy := service.NewEconomyService(backend.Store, backend.Options(cfg), logger)

	// Initialize WebSocket hub
	var (
		wsHub    *websocket.Hub
		upgrader *gws.Upgrader
	)
	if cfg.WebSocket.Enabled {
		wsHub = websocket.NewHub(logger)
		go wsHub.Run()
		defer wsHub.Stop()
		upgrader = websocket.NewUpgrader(cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)
		economy.SetNotifier(wsHub)
		logger.Info("WebSocket hub initialized")
	}

	// Anti-cheat scanner
	scanWorker, err := worker.NewScanWorker(economy, &cfg.Scanner, logger)
	if err != nil {
		return fmt.Errorf("creating scanner: %w", err)
	}
	if cfg.Scanner.Enabled {
		if err := scanWorker.Start(ctx); err != nil {
			return fmt.Errorf("starting scanner: %w", err)
		}
		defer func() {
			if err := scanWorker.Stop(); err != nil {
				logger.Error("failed to stop scanner", "error", err)
			}
		}()
	}

	// Initialize Kafka consumer for trusted score ingestion
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.ScoreTopic,
		)
		kafkaConsumer, err := kafka.NewConsumer(&cfg.Kafka, economy, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
		} else {
			logger.Info("Kafka consumer started successfully")
			defer func() {
				if err := kafkaConsumer.Stop(); err != nil {
					logger.Error("failed to stop Kafka consumer", "error", err)
				}
			}()
		}
	}

	signer := auth.NewSigner(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	httpHandler := handler.NewHandler(economy, signer, wsHub, upgrader, backend.Ping, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
