package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/rs/cors"

	cfg "github.com/moneta-app/wallet/backend/config"
	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/events"
	"github.com/moneta-app/wallet/backend/internal/handlers"
	"github.com/moneta-app/wallet/backend/internal/interwallet"
	"github.com/moneta-app/wallet/backend/internal/payments"
	"github.com/moneta-app/wallet/backend/internal/usecases"
	"github.com/moneta-app/wallet/backend/internal/usecases/repository"
	"github.com/moneta-app/wallet/backend/internal/workers"
	"github.com/moneta-app/wallet/backend/pkg/database"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	time.Local = time.UTC

	// Parse configuration
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging. Debug mode overrides the configured level.
	opts := &slog.HandlerOptions{
		Level: config.Log.Level,
	}
	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migrationsPath := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		if _, err := os.Stat(filepath.Join(workDir, "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "migrations")
		} else if _, err := os.Stat(filepath.Join(workDir, "..", "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "..", "migrations")
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Info("Starting wallet service",
		"environment", config.App.Environment,
		"debug", config.App.Debug,
		"system_name", config.InterWallet.SystemName,
		"server_port", config.HTTP.Port)

	// Connect to Database
	pg, err := database.New(config,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		logger.Error("postgres connection failed", "error", err)
		return
	}
	defer pg.Close()

	// Run database migrations
	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		log.Fatal(err)
	}

	// Create repositories
	walletsRepository := repository.NewWalletsRepository(logger, pg)
	transactionsRepository := repository.NewTransactionsRepository(logger, pg)
	transactionLogsRepository := repository.NewTransactionLogsRepository(logger, pg)
	fraudRulesRepository := repository.NewFraudRulesRepository(logger, pg)
	payoutsRepository := repository.NewPayoutsRepository(logger, pg)

	if config.Fraud.SeedDefaultRules {
		if err = fraudRulesRepository.SeedDefaultRules(ctx); err != nil {
			logger.Error("Failed to seed fraud rules", "error", err)
			log.Fatal(err)
		}
	}

	// Protocol and provider clients
	signer := interwallet.NewSigner(config.InterWallet.SharedSecret)
	protocolClient := interwallet.NewClient(logger, signer,
		config.InterWallet.SystemName, config.InterWallet.SystemURL,
		time.Duration(config.InterWallet.RequestTimeout)*time.Second)
	paymentProvider := payments.NewClient(logger, config.Payments.BaseURL, config.Payments.APIKey)

	// Event sinks
	websocketManager := handlers.NewWebSocketManager(logger)
	eventSinks := []ports.EventPublisher{websocketManager}
	if config.Kafka.Enabled {
		kafkaPublisher := events.NewKafkaPublisher(logger, config.Kafka.Brokers, config.Kafka.Topic)
		defer kafkaPublisher.Close()
		eventSinks = append(eventSinks, kafkaPublisher)
	}
	publisher := events.NewFanout(eventSinks...)

	// Create usecases
	rateService := usecases.NewRateService(logger, config.Rates.SourceURL,
		time.Duration(config.Rates.TTLMinutes)*time.Minute)
	fraudService := usecases.NewFraudService(logger, fraudRulesRepository, transactionsRepository, walletsRepository)
	walletService := usecases.NewWalletService(logger, walletsRepository, transactionsRepository)
	transferService := usecases.NewTransferService(logger, pg.Transactor,
		walletsRepository, transactionsRepository, transactionLogsRepository, payoutsRepository,
		fraudService, paymentProvider, publisher, config.Fraud.WithdrawalRiskThreshold)
	interWalletService := usecases.NewInterWalletService(logger, pg.Transactor,
		walletsRepository, transactionsRepository, transactionLogsRepository,
		fraudService, rateService, protocolClient, signer, publisher,
		config.InterWallet.SystemName, config.InterWallet.SystemURL)

	// Initialize and run workers
	reviewResolver := workers.NewReviewResolver(logger, transactionsRepository, transferService,
		time.Duration(config.Workers.ReviewMaxAgeHours)*time.Hour,
		time.Duration(config.Workers.ReviewSweepMinutes)*time.Minute)
	go reviewResolver.Start(ctx)

	pendingSweeper := workers.NewPendingSweeper(logger, transactionsRepository, protocolClient, interWalletService,
		time.Duration(config.Workers.PendingMaxAgeMinutes)*time.Minute,
		time.Duration(config.Workers.PendingSweepMinutes)*time.Minute)
	go pendingSweeper.Start(ctx)

	// Create handlers
	httpHandler := handlers.NewHTTPHandler(logger, walletService, transferService, interWalletService)
	interWalletHandler := handlers.NewInterWalletHandler(logger, interWalletService)
	wsHandler := handlers.NewWebSocketHandler(logger, websocketManager)

	// Create router
	router := mux.NewRouter()

	// Register WebSocket routes before HTTP routes
	wsHandler.RegisterRoutes(router)
	interWalletHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID"},
		AllowCredentials: true,
	})

	// Wrap router in CORS middleware
	handler := c.Handler(router)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer shutdownCancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}
