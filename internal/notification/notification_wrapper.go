// File: internal/notification/notification_wrapper.go
package notification

import (
	"errors"
	"time"

	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// NotificationManagerWithMetrics wraps NotificationManager with metrics
type NotificationManagerWithMetrics struct {
	*NotificationManager
	metricsManager *metrics.Manager
}

// NewNotificationManagerWithMetrics creates a notification manager wrapper
// that records a metric for every delivery outcome
func NewNotificationManagerWithMetrics(manager *NotificationManager, metricsManager *metrics.Manager) *NotificationManagerWithMetrics {
	wrapper := &NotificationManagerWithMetrics{
		NotificationManager: manager,
		metricsManager:      metricsManager,
	}

	manager.SetResultHook(wrapper.recordDelivery)
	return wrapper
}

// recordDelivery records one delivery outcome
func (nm *NotificationManagerWithMetrics) recordDelivery(notification *models.Notification, duration time.Duration, err error) {
	prometheus := nm.metricsManager.GetPrometheusMetrics()
	channel := string(notification.Type)

	notificationType := "event"
	if rule, ok := notification.Data["rule"].(string); ok && rule != "" {
		notificationType = rule
	}

	if err != nil {
		prometheus.RecordNotificationFailure(channel, notificationType, errorType(err))
	} else {
		prometheus.RecordNotificationSent(channel, notificationType, duration)
	}
}

// errorType maps a delivery error to a stable metric label
func errorType(err error) string {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "send_error"
}
