// File: cmd/listener/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/handcraft-labs/handcraft-event-listener/internal/anchor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/connection"
	"github.com/handcraft-labs/handcraft-event-listener/internal/ledger"
	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/internal/notification"
	"github.com/handcraft-labs/handcraft-event-listener/internal/processor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/scheduler"
	"github.com/handcraft-labs/handcraft-event-listener/internal/server"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/internal/stream"
	"github.com/handcraft-labs/handcraft-event-listener/internal/supabase"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the webhook listener together: storage, the Anchor
// decode pipeline, notifications, the Supabase mirror, maintenance jobs
// and the HTTP server.
type Application struct {
	config         *config.Config
	logger         *logrus.Logger
	metricsManager *metrics.Manager
	storage        storage.Storage
	rpc            *connection.RPCManager
	notifier       notification.Notifier
	processor      *processor.EventProcessor
	hub            *stream.Hub
	mirror         *supabase.Mirror
	scheduler      *scheduler.Scheduler
	server         *server.HTTPServer
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metricsManager = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.initializeConnection()
	app.initializeNotification()
	app.initializeProcessor()
	app.initializeStream()
	app.initializeMirror()
	app.scheduler = scheduler.NewScheduler(&app.config.Scheduler, app.storage, app.mirror)
	app.scheduler.SetMetricsManager(app.metricsManager)

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	app.logger.WithFields(logrus.Fields{
		"type": app.config.Storage.Type,
	}).Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metricsManager)

	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeConnection initializes the Solana RPC manager. RPC is only
// needed for replay and enrichment, so a failed health check logs a
// warning instead of aborting startup.
func (app *Application) initializeConnection() {
	app.logger.WithFields(logrus.Fields{
		"node_url": app.config.Solana.NodeURL,
		"backups":  len(app.config.Solana.BackupNodes),
	}).Info("Initializing Solana RPC manager")

	app.rpc = connection.NewRPCManager(&app.config.Solana)
	app.rpc.SetMetricsManager(app.metricsManager)

	ctx, cancel := context.WithTimeout(app.ctx, 10*time.Second)
	defer cancel()
	if err := app.rpc.HealthCheckWithContext(ctx); err != nil {
		app.logger.WithFields(logrus.Fields{"error": err}).Warn("Solana RPC health check failed, continuing")
		return
	}

	app.logger.Info("Solana RPC manager initialized successfully")
}

// initializeNotification initializes the notification manager
func (app *Application) initializeNotification() {
	app.logger.Info("Initializing notification manager")

	manager := notification.NewNotificationManager(&app.config.Notifications, app.storage)
	app.notifier = notification.NewNotificationManagerWithMetrics(manager, app.metricsManager)
}

// initializeProcessor initializes the event processing pipeline
func (app *Application) initializeProcessor() {
	app.logger.WithFields(logrus.Fields{
		"program": app.config.Solana.ProgramID,
	}).Info("Initializing event processor")

	decoder := anchor.NewTransactionDecoder(app.config.Solana.ProgramID)
	ldg := ledger.NewLedger(&app.config.Ledger, app.storage)

	app.processor = processor.NewEventProcessor(app.storage, ldg, decoder, app.notifier, &app.config.Processor)
	app.processor.SetMetricsManager(app.metricsManager)
}

// initializeStream initializes the WebSocket stream hub when enabled
func (app *Application) initializeStream() {
	if !app.config.Server.EnableStream {
		return
	}

	app.hub = stream.NewHub()
	app.hub.SetMetricsManager(app.metricsManager)
	app.processor.SetBroadcaster(app.hub)

	app.logger.Info("Stream hub initialized")
}

// initializeMirror initializes the Supabase mirror
func (app *Application) initializeMirror() {
	app.mirror = supabase.NewMirror(&app.config.Supabase, app.storage)
	app.mirror.SetMetricsManager(app.metricsManager)

	if app.mirror.Enabled() {
		app.processor.SetRewardSink(app.mirror)
		app.logger.WithFields(logrus.Fields{
			"url": app.config.Supabase.URL,
		}).Info("Supabase mirror enabled")
	} else {
		app.logger.Info("Supabase mirror disabled")
	}
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	srv, err := server.NewHTTPServer(&app.config.Server, &app.config.Webhook, server.Dependencies{
		Storage:   app.storage,
		Processor: app.processor,
		Notifier:  app.notifier,
		RPC:       app.rpc,
		Mirror:    app.mirror,
		Hub:       app.hub,
		Metrics:   app.metricsManager,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	app.server = srv

	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting Handcraft event listener")

	if err := app.notifier.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start notification manager: %w", err)
	}
	if err := app.processor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start event processor: %w", err)
	}
	if app.hub != nil {
		if err := app.hub.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start stream hub: %w", err)
		}
	}
	if err := app.scheduler.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := app.server.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"program":        app.config.Solana.ProgramID,
		"storage":        app.config.Storage.Type,
		"mirror":         app.mirror.Enabled(),
	}).Info("Handcraft event listener started successfully")

	return nil
}

// Stop stops the application gracefully, in reverse start order
func (app *Application) Stop() error {
	app.logger.Info("Stopping Handcraft event listener")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithFields(logrus.Fields{"error": err}).Error("Failed to stop HTTP server")
		}
	}
	if app.scheduler != nil {
		if err := app.scheduler.Stop(); err != nil {
			app.logger.WithFields(logrus.Fields{"error": err}).Error("Failed to stop scheduler")
		}
	}
	if app.hub != nil {
		if err := app.hub.Stop(); err != nil {
			app.logger.WithFields(logrus.Fields{"error": err}).Error("Failed to stop stream hub")
		}
	}
	if app.processor != nil {
		if err := app.processor.Stop(); err != nil {
			app.logger.WithFields(logrus.Fields{"error": err}).Error("Failed to stop event processor")
		}
	}
	if app.notifier != nil {
		if err := app.notifier.Stop(); err != nil {
			app.logger.WithFields(logrus.Fields{"error": err}).Error("Failed to stop notification manager")
		}
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithFields(logrus.Fields{"error": err}).Error("Failed to close storage")
		}
	}
	if app.rpc != nil {
		if err := app.rpc.Close(); err != nil {
			app.logger.WithFields(logrus.Fields{"error": err}).Error("Failed to close RPC manager")
		}
	}

	app.logger.Info("Handcraft event listener stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "handcraft-event-listener",
	Short:   "Handcraft marketplace event listener",
	Long:    `Ingests Helius webhook deliveries for the Handcraft marketplace program, decodes Anchor events, maintains the reward and subscription ledger, and serves the query API.`,
	Version: AppVersion,
	RunE:    runListener,
}

// runListener is the main command to run the event listener
func runListener(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Handcraft Event Listener %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Program ID: %s\n", cfg.Solana.ProgramID)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("Supabase mirror: %t\n", cfg.Supabase.Enabled)

		return nil
	},
}

// testCmd represents the connectivity test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		fmt.Println("Testing Handcraft event listener connectivity...")

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Ping(); err != nil {
			return fmt.Errorf("storage ping failed: %w", err)
		}
		fmt.Println("✓ Storage connection successful")

		fmt.Printf("Testing Solana RPC connection to %s...\n", cfg.Solana.NodeURL)
		rpc := connection.NewRPCManager(&cfg.Solana)
		defer rpc.Close()
		if err := rpc.HealthCheckWithContext(ctx); err != nil {
			return fmt.Errorf("solana RPC health check failed: %w", err)
		}
		slot, err := rpc.GetSlot(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch current slot: %w", err)
		}
		fmt.Printf("✓ Solana RPC connection successful (slot %d)\n", slot)

		if cfg.Supabase.Enabled {
			fmt.Println("Testing Supabase mirror...")
			mirror := supabase.NewMirror(&cfg.Supabase, store)
			if err := mirror.Ping(ctx); err != nil {
				return fmt.Errorf("supabase ping failed: %w", err)
			}
			fmt.Println("✓ Supabase mirror reachable")
		}

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// replayCmd fetches one transaction over RPC and runs it through the
// processing pipeline
var replayCmd = &cobra.Command{
	Use:   "replay <signature>",
	Short: "Replay a transaction through the processing pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signature := args[0]
		if !utils.IsValidSignature(signature) {
			return fmt.Errorf("invalid transaction signature: %s", signature)
		}

		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("failed to run storage migrations: %w", err)
		}

		notifier := notification.NewNotificationManager(&cfg.Notifications, store)
		if err := notifier.Start(ctx); err != nil {
			return fmt.Errorf("failed to start notification manager: %w", err)
		}
		defer notifier.Stop()

		decoder := anchor.NewTransactionDecoder(cfg.Solana.ProgramID)
		ldg := ledger.NewLedger(&cfg.Ledger, store)
		proc := processor.NewEventProcessor(store, ldg, decoder, notifier, &cfg.Processor)
		if err := proc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processor: %w", err)
		}
		defer proc.Stop()

		rpc := connection.NewRPCManager(&cfg.Solana)
		defer rpc.Close()

		fmt.Printf("Fetching transaction %s...\n", signature)
		payload, err := rpc.GetTransaction(ctx, signature)
		if err != nil {
			return fmt.Errorf("failed to fetch transaction: %w", err)
		}

		batch, err := proc.ProcessBatch(ctx, []*models.TransactionPayload{payload})
		if err != nil {
			return fmt.Errorf("failed to process transaction: %w", err)
		}

		fmt.Printf("Processed: %d, skipped: %d, failed: %d\n", batch.Processed, batch.Skipped, batch.Failed)
		fmt.Printf("Events decoded: %d, rewards written: %d\n", batch.EventsDecoded, batch.RewardsWritten)
		for _, errMsg := range batch.Errors {
			fmt.Printf("  error: %s\n", errMsg)
		}

		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(replayCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	// Allow .env for local runs
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
