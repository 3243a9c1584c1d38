package storage

import (
	"context"
	"time"

	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation, table string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation,
		table,
		status,
		time.Since(start),
	)
}

// SaveEvent saves an event and records metrics
func (s *StorageWithMetrics) SaveEvent(ctx context.Context, event *models.ProgramEvent) error {
	start := time.Now()
	err := s.Storage.SaveEvent(ctx, event)
	s.record("insert", "events", err, start)
	return err
}

// SaveEvents saves an event batch and records metrics
func (s *StorageWithMetrics) SaveEvents(ctx context.Context, events []*models.ProgramEvent) error {
	start := time.Now()
	err := s.Storage.SaveEvents(ctx, events)
	s.record("batch_insert", "events", err, start)
	return err
}

// MarkEventProcessed marks an event processed and records metrics
func (s *StorageWithMetrics) MarkEventProcessed(ctx context.Context, id string, processedAt time.Time) error {
	start := time.Now()
	err := s.Storage.MarkEventProcessed(ctx, id, processedAt)
	s.record("update", "events", err, start)
	return err
}

// InsertRewardTransaction inserts a reward row and records metrics
func (s *StorageWithMetrics) InsertRewardTransaction(ctx context.Context, tx *models.RewardTransaction) (bool, error) {
	start := time.Now()
	inserted, err := s.Storage.InsertRewardTransaction(ctx, tx)
	s.record("insert", "reward_transactions", err, start)

	if err == nil && inserted && s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordRewardRecorded(tx.TxType, tx.AmountLamports)
	}

	return inserted, err
}

// UpsertSubscription upserts a subscription and records metrics
func (s *StorageWithMetrics) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	start := time.Now()
	err := s.Storage.UpsertSubscription(ctx, sub)
	s.record("upsert", "subscriptions", err, start)
	return err
}
