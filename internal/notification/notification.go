// File: internal/notification/notification.go
package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// Notifier defines the notification interface
type Notifier interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsHealthy() bool

	// Notify queues a notification for asynchronous delivery
	Notify(ctx context.Context, notification *models.Notification) error

	// Channels lists the configured delivery channel names
	Channels() []string

	// Statistics
	GetStats() *NotificationStats
}

// Sender delivers notifications over one channel
type Sender interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, notification *models.Notification) error
}

// NotificationManager implements the Notifier interface over a persistent
// queue: notifications are stored before they are enqueued, so deliveries
// pending at shutdown are picked up again on the next start.
type NotificationManager struct {
	config  *config.NotificationConfig
	storage storage.Storage
	logger  *NotificationLogger

	mu      sync.RWMutex
	running bool
	queue   chan *models.Notification
	senders map[models.NotificationType]Sender

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup

	// resultHook observes every delivery outcome; used by the metrics wrapper
	resultHook func(n *models.Notification, duration time.Duration, err error)

	stats *NotificationStats
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalQueued         uint64            `json:"total_queued"`
	TotalSent           uint64            `json:"total_sent"`
	TotalFailed         uint64            `json:"total_failed"`
	TotalRetries        uint64            `json:"total_retries"`
	SentByChannel       map[string]uint64 `json:"sent_by_channel"`
	AverageDeliveryTime time.Duration     `json:"average_delivery_time"`
	ActiveChannels      int               `json:"active_channels"`
	QueueLength         int               `json:"queue_length"`
	ErrorCount          uint64            `json:"error_count"`
	LastError           *string           `json:"last_error,omitempty"`
	LastErrorTime       *time.Time        `json:"last_error_time,omitempty"`
}

// NewNotificationManager creates a new notification manager
func NewNotificationManager(cfg *config.NotificationConfig, store storage.Storage) *NotificationManager {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	nm := &NotificationManager{
		config:   cfg,
		storage:  store,
		logger:   NewNotificationLogger("info"),
		queue:    make(chan *models.Notification, queueSize),
		senders:  make(map[models.NotificationType]Sender),
		stopChan: make(chan struct{}),
		stats: &NotificationStats{
			SentByChannel: make(map[string]uint64),
		},
	}

	nm.senders[models.NotificationTypeLog] = NewLogSender(nm.logger)
	if cfg.EnableWebhookNotifications {
		nm.senders[models.NotificationTypeWebhook] = NewWebhookSender(cfg, nm.logger)
	}
	if cfg.EnableEmailNotifications {
		nm.senders[models.NotificationTypeEmail] = NewEmailSender(cfg, nm.logger)
	}

	return nm
}

// SetResultHook registers an observer for delivery outcomes
func (nm *NotificationManager) SetResultHook(hook func(n *models.Notification, duration time.Duration, err error)) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.resultHook = hook
}

// Start starts the notification manager and requeues deliveries that were
// still pending when the previous process stopped
func (nm *NotificationManager) Start(ctx context.Context) error {
	nm.mu.Lock()
	if nm.running {
		nm.mu.Unlock()
		return utils.NewAppError(utils.ErrCodeInternal, "Notification manager already running", "")
	}
	nm.running = true
	nm.mu.Unlock()

	nm.logger.Info("Starting notification manager")

	for _, sender := range nm.senders {
		if err := sender.Start(ctx); err != nil {
			nm.logger.Warn("Failed to start notification sender", map[string]interface{}{
				"sender": sender.Name(),
				"error":  err,
			})
		}
	}

	nm.requeuePending(ctx)

	nm.wg.Add(1)
	go nm.deliveryLoop()

	nm.logger.Info("Notification manager started", map[string]interface{}{
		"channels":   len(nm.senders),
		"queue_size": cap(nm.queue),
	})
	return nil
}

// Stop stops the notification manager. Queued notifications stay pending in
// storage and are requeued on the next start.
func (nm *NotificationManager) Stop() error {
	nm.mu.Lock()
	if !nm.running {
		nm.mu.Unlock()
		return nil
	}
	nm.running = false
	nm.mu.Unlock()

	nm.logger.Info("Stopping notification manager")

	nm.stopOnce.Do(func() {
		close(nm.stopChan)
	})
	nm.wg.Wait()

	for _, sender := range nm.senders {
		if err := sender.Stop(); err != nil {
			nm.logger.Warn("Failed to stop notification sender", map[string]interface{}{
				"sender": sender.Name(),
				"error":  err,
			})
		}
	}

	nm.logger.Info("Notification manager stopped")
	return nil
}

// IsHealthy returns whether the notification manager is healthy
func (nm *NotificationManager) IsHealthy() bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.running && len(nm.queue) < cap(nm.queue)
}

// Channels lists the configured delivery channel names
func (nm *NotificationManager) Channels() []string {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	channels := make([]string, 0, len(nm.senders))
	for channel := range nm.senders {
		channels = append(channels, string(channel))
	}
	sort.Strings(channels)
	return channels
}

// Notify persists a notification and queues it for delivery
func (nm *NotificationManager) Notify(ctx context.Context, notification *models.Notification) error {
	nm.mu.RLock()
	running := nm.running
	nm.mu.RUnlock()

	if !running {
		return utils.NewAppError(utils.ErrCodeInternal, "Notification manager not running", "")
	}

	if notification.Type == "" {
		notification.Type = models.NotificationType(nm.config.DefaultChannel)
	}
	if notification.Status == "" {
		notification.Status = "pending"
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	if _, ok := nm.senders[notification.Type]; !ok {
		return utils.NewAppError(utils.ErrCodeValidation, "No sender for notification channel", string(notification.Type))
	}

	if err := nm.storage.SaveNotification(ctx, notification); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to persist notification", err.Error())
	}

	select {
	case nm.queue <- notification:
		nm.mu.Lock()
		nm.stats.TotalQueued++
		nm.mu.Unlock()
		return nil
	default:
		// Stored as pending, so it is retried after the queue drains or on
		// the next start
		return utils.NewAppError(utils.ErrCodeRateLimit, "Notification queue full", notification.ID)
	}
}

// requeuePending reloads stored pending notifications into the queue
func (nm *NotificationManager) requeuePending(ctx context.Context) {
	pending, err := nm.storage.GetPendingNotifications(ctx, cap(nm.queue))
	if err != nil {
		nm.logger.Warn("Failed to load pending notifications", map[string]interface{}{"error": err})
		return
	}
	if len(pending) == 0 {
		return
	}

	requeued := 0
	for _, notification := range pending {
		select {
		case nm.queue <- notification:
			requeued++
		default:
		}
	}

	nm.logger.Info("Requeued pending notifications", map[string]interface{}{
		"pending":  len(pending),
		"requeued": requeued,
	})
}

// deliveryLoop drains the queue until stopped
func (nm *NotificationManager) deliveryLoop() {
	defer nm.wg.Done()

	for {
		select {
		case <-nm.stopChan:
			return
		case notification := <-nm.queue:
			nm.deliver(notification)
		}
	}
}

// deliver sends one notification with retries
func (nm *NotificationManager) deliver(notification *models.Notification) {
	startTime := time.Now()

	sender, ok := nm.senders[notification.Type]
	if !ok {
		nm.finishDelivery(notification, startTime,
			utils.NewAppError(utils.ErrCodeValidation, "No sender for notification channel", string(notification.Type)))
		return
	}

	maxAttempts := nm.config.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	delay := nm.config.RetryDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			nm.logger.LogRetryAttempt(string(notification.Type), attempt, maxAttempts, delay)
			nm.mu.Lock()
			nm.stats.TotalRetries++
			nm.mu.Unlock()

			select {
			case <-time.After(delay):
			case <-nm.stopChan:
				return
			}
			delay *= 2
		}

		notification.Attempts = attempt
		lastErr = nm.sendOnce(sender, notification)
		if lastErr == nil {
			break
		}
	}

	nm.finishDelivery(notification, startTime, lastErr)
}

func (nm *NotificationManager) sendOnce(sender Sender, notification *models.Notification) error {
	timeout := nm.config.NotificationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return sender.Send(ctx, notification)
}

// finishDelivery records the outcome in storage and statistics
func (nm *NotificationManager) finishDelivery(notification *models.Notification, startTime time.Time, err error) {
	duration := time.Since(startTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		now := time.Now().UTC()
		notification.Status = "sent"
		notification.SentAt = &now
		if updateErr := nm.storage.UpdateNotificationStatus(ctx, notification.ID, "sent", nil); updateErr != nil {
			nm.logger.Warn("Failed to update notification status", map[string]interface{}{
				"notification_id": notification.ID,
				"error":           updateErr,
			})
		}
		nm.logger.LogNotificationSuccess(notification.ID, string(notification.Type), duration)
	} else {
		errStr := err.Error()
		notification.Status = "failed"
		notification.Error = &errStr
		if updateErr := nm.storage.UpdateNotificationStatus(ctx, notification.ID, "failed", &errStr); updateErr != nil {
			nm.logger.Warn("Failed to update notification status", map[string]interface{}{
				"notification_id": notification.ID,
				"error":           updateErr,
			})
		}
		nm.logger.LogNotificationFailure(notification.ID, string(notification.Type), err, duration)
	}

	nm.mu.Lock()
	if err == nil {
		nm.stats.TotalSent++
		nm.stats.SentByChannel[string(notification.Type)]++
	} else {
		nm.stats.TotalFailed++
		nm.stats.ErrorCount++
		errStr := err.Error()
		nm.stats.LastError = &errStr
		now := time.Now()
		nm.stats.LastErrorTime = &now
	}
	delivered := nm.stats.TotalSent + nm.stats.TotalFailed
	if delivered == 1 {
		nm.stats.AverageDeliveryTime = duration
	} else {
		nm.stats.AverageDeliveryTime = (nm.stats.AverageDeliveryTime + duration) / 2
	}
	hook := nm.resultHook
	nm.mu.Unlock()

	if hook != nil {
		hook(notification, duration, err)
	}
}

// GetStats returns notification statistics
func (nm *NotificationManager) GetStats() *NotificationStats {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.stats.ActiveChannels = len(nm.senders)
	nm.stats.QueueLength = len(nm.queue)

	statsCopy := *nm.stats
	statsCopy.SentByChannel = make(map[string]uint64, len(nm.stats.SentByChannel))
	for channel, count := range nm.stats.SentByChannel {
		statsCopy.SentByChannel[channel] = count
	}
	return &statsCopy
}
