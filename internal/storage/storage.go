// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
)

// Storage defines the interface for ledger storage operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Event operations
	SaveEvent(ctx context.Context, event *models.ProgramEvent) error
	SaveEvents(ctx context.Context, events []*models.ProgramEvent) error
	GetEvent(ctx context.Context, id string) (*models.ProgramEvent, error)
	GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.ProgramEvent, error)
	GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error)
	MarkEventProcessed(ctx context.Context, id string, processedAt time.Time) error
	DeleteEvent(ctx context.Context, id string) error

	// Reward ledger operations
	InsertRewardTransaction(ctx context.Context, tx *models.RewardTransaction) (bool, error)
	GetRewardTransaction(ctx context.Context, id string) (*models.RewardTransaction, error)
	GetRewardTransactions(ctx context.Context, filter models.RewardFilter) ([]*models.RewardTransaction, error)
	GetRewardCount(ctx context.Context, filter models.RewardFilter) (int64, error)
	GetRewardSummary(ctx context.Context, wallet string, from, to time.Time) (*models.RewardSummary, error)
	MarkRewardMirrored(ctx context.Context, id string) error
	GetUnmirroredRewards(ctx context.Context, limit int) ([]*models.RewardTransaction, error)

	// Subscription operations
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, subscriber, creator string) (*models.Subscription, error)
	GetSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]*models.Subscription, error)
	MarkExpiredSubscriptions(ctx context.Context, now time.Time) (int64, error)

	// Slot tracking operations
	GetLastProcessedSlot() (uint64, error)
	SetLastProcessedSlot(slot uint64) error

	// Notification operations
	SaveNotification(ctx context.Context, notification *models.Notification) error
	GetPendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id string, status string, error *string) error

	// Statistics and monitoring
	GetStorageStats() (*StorageStats, error)
	GetEventStats(ctx context.Context, fromTime, toTime time.Time) (*EventStats, error)

	// Maintenance operations
	Cleanup(ctx context.Context, retentionDays int) error
	Vacuum() error
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalEvents         int64      `json:"total_events"`
	TotalRewards        int64      `json:"total_rewards"`
	TotalSubscriptions  int64      `json:"total_subscriptions"`
	ActiveSubscriptions int64      `json:"active_subscriptions"`
	UnmirroredRewards   int64      `json:"unmirrored_rewards"`
	TotalNotifications  int64      `json:"total_notifications"`
	OldestEvent         *time.Time `json:"oldest_event,omitempty"`
	LatestEvent         *time.Time `json:"latest_event,omitempty"`
	DatabaseSize        int64      `json:"database_size_bytes"`
	LastProcessedSlot   uint64     `json:"last_processed_slot"`
}

// EventStats provides event statistics for a time period
type EventStats struct {
	TimeRange      TimeRange         `json:"time_range"`
	TotalEvents    int64             `json:"total_events"`
	EventsByName   map[string]int64  `json:"events_by_name"`
	RewardsByType  map[string]int64  `json:"rewards_by_type"`
	LamportsByType map[string]uint64 `json:"lamports_by_type"`
}

// TimeRange represents a time range
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
	BatchSize        int           `json:"batch_size"`
}
