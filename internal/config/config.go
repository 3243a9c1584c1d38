// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Solana        SolanaConfig       `mapstructure:"solana"`
	Webhook       WebhookConfig      `mapstructure:"webhook"`
	Ledger        LedgerConfig       `mapstructure:"ledger"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Processor     ProcessorConfig    `mapstructure:"processor"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Supabase      SupabaseConfig     `mapstructure:"supabase"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// SolanaConfig contains Solana RPC connection configuration
type SolanaConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	ProgramID      string        `mapstructure:"program_id"`
	Commitment     string        `mapstructure:"commitment"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// WebhookConfig contains the inbound Helius webhook configuration
type WebhookConfig struct {
	AuthToken      string `mapstructure:"auth_token"`
	AuthHeader     string `mapstructure:"auth_header"`
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
	MaxBatchSize   int    `mapstructure:"max_batch_size"`
	RateLimitRPS   int    `mapstructure:"rate_limit_rps"`
	RateLimitBurst int    `mapstructure:"rate_limit_burst"`
}

// LedgerConfig contains reward ledger computation parameters
type LedgerConfig struct {
	PlatformFeeBps uint64        `mapstructure:"platform_fee_bps"`
	PointsDivisor  uint64        `mapstructure:"points_divisor"`
	RenewalGrace   time.Duration `mapstructure:"renewal_grace"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// ProcessorConfig contains event processing configuration
type ProcessorConfig struct {
	QueueSize               int           `mapstructure:"queue_size"`
	RetryAttempts           int           `mapstructure:"retry_attempts"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	MaxConcurrentProcessing int           `mapstructure:"max_concurrent_processing"`
	ProcessingTimeout       time.Duration `mapstructure:"processing_timeout"`
	EnableAggregation       bool          `mapstructure:"enable_aggregation"`
	AggregationWindow       time.Duration `mapstructure:"aggregation_window"`
	EnableValidation        bool          `mapstructure:"enable_validation"`
}

// NotificationConfig contains notification system configuration
type NotificationConfig struct {
	Enabled                    bool          `mapstructure:"enabled"`
	QueueSize                  int           `mapstructure:"queue_size"`
	RetryDelay                 time.Duration `mapstructure:"retry_delay"`
	MaxRetries                 int           `mapstructure:"max_retries"`
	DefaultChannel             string        `mapstructure:"default_channel"`
	NotificationTimeout        time.Duration `mapstructure:"notification_timeout"`
	EnableEmailNotifications   bool          `mapstructure:"enable_email_notifications"`
	EnableWebhookNotifications bool          `mapstructure:"enable_webhook_notifications"`
}

// SupabaseConfig contains the platform database mirror configuration
type SupabaseConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	ServiceKey       string        `mapstructure:"service_key"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// SchedulerConfig contains cron job configuration
type SchedulerConfig struct {
	CleanupSchedule     string `mapstructure:"cleanup_schedule"`
	RetentionDays       int    `mapstructure:"retention_days"`
	ExpirySweepSchedule string `mapstructure:"expiry_sweep_schedule"`
	MirrorSchedule      string `mapstructure:"mirror_schedule"`
	MirrorBatchSize     int    `mapstructure:"mirror_batch_size"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
	EnableStream  bool          `mapstructure:"enable_stream"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, text
	Output     string `mapstructure:"output"` // stdout, file
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("HANDCRAFT")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if token := os.Getenv("HELIUS_AUTH_TOKEN"); token != "" {
		config.Webhook.AuthToken = token
	}
	if nodeURL := os.Getenv("SOLANA_RPC_URL"); nodeURL != "" {
		config.Solana.NodeURL = nodeURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}
	if url := os.Getenv("SUPABASE_URL"); url != "" {
		config.Supabase.URL = url
	}
	if key := os.Getenv("SUPABASE_SERVICE_KEY"); key != "" {
		config.Supabase.ServiceKey = key
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "handcraft-event-listener")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Solana defaults
	viper.SetDefault("solana.node_url", "https://api.mainnet-beta.solana.com")
	viper.SetDefault("solana.commitment", "confirmed")
	viper.SetDefault("solana.request_timeout", "30s")
	viper.SetDefault("solana.retry_attempts", 3)
	viper.SetDefault("solana.retry_delay", "5s")

	// Webhook defaults
	viper.SetDefault("webhook.auth_header", "Authorization")
	viper.SetDefault("webhook.max_body_bytes", 1048576)
	viper.SetDefault("webhook.max_batch_size", 100)
	viper.SetDefault("webhook.rate_limit_rps", 20)
	viper.SetDefault("webhook.rate_limit_burst", 100)

	// Ledger defaults
	viper.SetDefault("ledger.platform_fee_bps", 250)
	viper.SetDefault("ledger.points_divisor", 1000000)
	viper.SetDefault("ledger.renewal_grace", "72h")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/events.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Processor defaults
	viper.SetDefault("processor.queue_size", 1000)
	viper.SetDefault("processor.retry_attempts", 3)
	viper.SetDefault("processor.retry_delay", "5s")
	viper.SetDefault("processor.max_concurrent_processing", 8)
	viper.SetDefault("processor.processing_timeout", "30s")
	viper.SetDefault("processor.enable_aggregation", true)
	viper.SetDefault("processor.aggregation_window", "24h")
	viper.SetDefault("processor.enable_validation", true)

	// Notification defaults
	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.queue_size", 100)
	viper.SetDefault("notifications.retry_delay", "10s")
	viper.SetDefault("notifications.max_retries", 3)
	viper.SetDefault("notifications.default_channel", "log")
	viper.SetDefault("notifications.notification_timeout", "30s")

	// Supabase defaults
	viper.SetDefault("supabase.enabled", false)
	viper.SetDefault("supabase.request_timeout", "10s")
	viper.SetDefault("supabase.failure_threshold", 5)
	viper.SetDefault("supabase.reset_timeout", "60s")

	// Scheduler defaults
	viper.SetDefault("scheduler.cleanup_schedule", "0 3 * * *")
	viper.SetDefault("scheduler.retention_days", 90)
	viper.SetDefault("scheduler.expiry_sweep_schedule", "@hourly")
	viper.SetDefault("scheduler.mirror_schedule", "@every 5m")
	viper.SetDefault("scheduler.mirror_batch_size", 100)

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)
	viper.SetDefault("server.enable_stream", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Solana.ProgramID == "" {
		return fmt.Errorf("solana program ID is required")
	}
	if c.Webhook.AuthToken == "" {
		return fmt.Errorf("webhook auth token is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Processor.MaxConcurrentProcessing <= 0 {
		return fmt.Errorf("processor max concurrent processing must be positive")
	}
	if c.Ledger.PlatformFeeBps > 10000 {
		return fmt.Errorf("platform fee must not exceed 10000 bps")
	}
	if c.Ledger.PointsDivisor == 0 {
		return fmt.Errorf("points divisor must be positive")
	}
	if c.Supabase.Enabled && (c.Supabase.URL == "" || c.Supabase.ServiceKey == "") {
		return fmt.Errorf("supabase URL and service key are required when the mirror is enabled")
	}
	return nil
}
