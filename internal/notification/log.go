// File: internal/notification/log.go
package notification

import (
	"context"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
)

// LogSender writes notifications to the application log. It is the default
// channel and never fails.
type LogSender struct {
	logger *NotificationLogger
}

// NewLogSender creates a new log sender
func NewLogSender(logger *NotificationLogger) *LogSender {
	return &LogSender{
		logger: logger.WithField("sender", "log"),
	}
}

// Name returns the channel name
func (ls *LogSender) Name() string {
	return string(models.NotificationTypeLog)
}

// Start starts the log sender
func (ls *LogSender) Start(ctx context.Context) error {
	return nil
}

// Stop stops the log sender
func (ls *LogSender) Stop() error {
	return nil
}

// Send writes the notification to the log
func (ls *LogSender) Send(ctx context.Context, notification *models.Notification) error {
	ls.logger.Info(notification.Message, map[string]interface{}{
		"notification_id": notification.ID,
		"title":           notification.Title,
		"event_id":        notification.EventID,
		"data":            notification.Data,
	})
	return nil
}
