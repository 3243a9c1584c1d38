// File: internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/internal/supabase"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

const jobTimeout = 10 * time.Minute

// Scheduler runs the periodic maintenance jobs: event retention cleanup,
// subscription expiry sweeps and Supabase mirror reconciliation. Jobs that
// are still running when their next tick fires are skipped, not stacked.
type Scheduler struct {
	config         *config.SchedulerConfig
	storage        storage.Storage
	mirror         *supabase.Mirror
	metricsManager *metrics.Manager
	cron           *cron.Cron
	logger         *logrus.Logger

	mu      sync.RWMutex
	running bool
	stats   SchedulerStats
}

// SchedulerStats provides scheduler statistics
type SchedulerStats struct {
	CleanupRuns          uint64     `json:"cleanup_runs"`
	ExpirySweeps         uint64     `json:"expiry_sweeps"`
	SubscriptionsExpired int64      `json:"subscriptions_expired"`
	MirrorPasses         uint64     `json:"mirror_passes"`
	RewardsMirrored      int64      `json:"rewards_mirrored"`
	LastCleanup          *time.Time `json:"last_cleanup,omitempty"`
	LastExpirySweep      *time.Time `json:"last_expiry_sweep,omitempty"`
	LastMirrorPass       *time.Time `json:"last_mirror_pass,omitempty"`
	LastError            *string    `json:"last_error,omitempty"`
}

// NewScheduler creates a scheduler over the configured maintenance jobs
func NewScheduler(cfg *config.SchedulerConfig, store storage.Storage, mirror *supabase.Mirror) *Scheduler {
	logger := utils.GetLogger()

	s := &Scheduler{
		config:  cfg,
		storage: store,
		mirror:  mirror,
		logger:  logger,
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return s
}

// SetMetricsManager wires metric recording into the scheduler
func (s *Scheduler) SetMetricsManager(manager *metrics.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsManager = manager
}

// Start registers the configured jobs and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scheduler already running", "")
	}

	if s.config.CleanupSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.CleanupSchedule, s.runCleanup); err != nil {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid cleanup schedule", err.Error())
		}
	}
	if s.config.ExpirySweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.ExpirySweepSchedule, s.runExpirySweep); err != nil {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid expiry sweep schedule", err.Error())
		}
	}
	if s.mirror != nil && s.mirror.Enabled() && s.config.MirrorSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.MirrorSchedule, s.runMirrorPass); err != nil {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid mirror schedule", err.Error())
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.WithFields(logrus.Fields{
		"cleanup_schedule": s.config.CleanupSchedule,
		"expiry_schedule":  s.config.ExpirySweepSchedule,
		"mirror_schedule":  s.config.MirrorSchedule,
		"retention_days":   s.config.RetentionDays,
	}).Info("Scheduler started")
	return nil
}

// Stop stops the cron runner and waits for in-flight jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("Timed out waiting for scheduled jobs to finish")
	}

	s.logger.Info("Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStats returns a copy of the scheduler statistics
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// runCleanup purges events past the retention window and compacts storage
func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := s.storage.Cleanup(ctx, s.config.RetentionDays); err != nil {
		s.recordError(err)
		s.logger.WithFields(logrus.Fields{
			"retention_days": s.config.RetentionDays,
			"error":          err,
		}).Error("Scheduled cleanup failed")
		return
	}

	if err := s.storage.Vacuum(); err != nil {
		s.logger.WithFields(logrus.Fields{"error": err}).Warn("Storage vacuum failed")
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.stats.CleanupRuns++
	s.stats.LastCleanup = &now
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"retention_days": s.config.RetentionDays,
		"duration":       time.Since(start),
	}).Info("Scheduled cleanup complete")
}

// runExpirySweep marks overdue subscriptions expired and refreshes the
// active subscription gauge
func (s *Scheduler) runExpirySweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	expired, err := s.storage.MarkExpiredSubscriptions(ctx, time.Now().UTC())
	if err != nil {
		s.recordError(err)
		s.logger.WithFields(logrus.Fields{"error": err}).Error("Subscription expiry sweep failed")
		return
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.stats.ExpirySweeps++
	s.stats.SubscriptionsExpired += expired
	s.stats.LastExpirySweep = &now
	manager := s.metricsManager
	s.mu.Unlock()

	if manager != nil {
		if stats, statsErr := s.storage.GetStorageStats(); statsErr == nil {
			manager.GetPrometheusMetrics().UpdateActiveSubscriptions(stats.ActiveSubscriptions)
		}
	}

	if expired > 0 {
		s.logger.WithFields(logrus.Fields{"expired": expired}).Info("Subscription expiry sweep complete")
	}
}

// runMirrorPass pushes unmirrored ledger rows to Supabase
func (s *Scheduler) runMirrorPass() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	mirrored, err := s.mirror.Flush(ctx, s.config.MirrorBatchSize)
	if err != nil {
		s.recordError(err)
		s.logger.WithFields(logrus.Fields{"error": err}).Error("Mirror reconcile pass failed")
		return
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.stats.MirrorPasses++
	s.stats.RewardsMirrored += int64(mirrored)
	s.stats.LastMirrorPass = &now
	s.mu.Unlock()
}

func (s *Scheduler) recordError(err error) {
	message := err.Error()
	s.mu.Lock()
	s.stats.LastError = &message
	s.mu.Unlock()
}

// cronLogger adapts logrus to the cron logging interface
type cronLogger struct {
	logger *logrus.Logger
}

func (cl cronLogger) Info(msg string, keysAndValues ...interface{}) {
	cl.logger.WithField("details", keysAndValues).Debug(msg)
}

func (cl cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	cl.logger.WithFields(logrus.Fields{
		"error":   err,
		"details": keysAndValues,
	}).Error(msg)
}
