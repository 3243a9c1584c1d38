// File: internal/notification/logger.go
package notification

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// NotificationLogger handles logging for notification operations
type NotificationLogger struct {
	logger   *logrus.Logger
	logLevel logrus.Level
	context  map[string]interface{}
}

// NewNotificationLogger creates a new notification logger
func NewNotificationLogger(logLevel string) *NotificationLogger {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	return &NotificationLogger{
		logger:   utils.GetLogger(),
		logLevel: level,
		context:  make(map[string]interface{}),
	}
}

// WithContext adds context to the logger
func (nl *NotificationLogger) WithContext(context map[string]interface{}) *NotificationLogger {
	newLogger := &NotificationLogger{
		logger:   nl.logger,
		logLevel: nl.logLevel,
		context:  make(map[string]interface{}),
	}

	for k, v := range nl.context {
		newLogger.context[k] = v
	}
	for k, v := range context {
		newLogger.context[k] = v
	}

	return newLogger
}

// WithField adds a single field to the logger context
func (nl *NotificationLogger) WithField(key string, value interface{}) *NotificationLogger {
	return nl.WithContext(map[string]interface{}{key: value})
}

// Debug logs a debug message
func (nl *NotificationLogger) Debug(message string, context ...map[string]interface{}) {
	nl.log(logrus.DebugLevel, message, context...)
}

// Info logs an info message
func (nl *NotificationLogger) Info(message string, context ...map[string]interface{}) {
	nl.log(logrus.InfoLevel, message, context...)
}

// Warn logs a warning message
func (nl *NotificationLogger) Warn(message string, context ...map[string]interface{}) {
	nl.log(logrus.WarnLevel, message, context...)
}

// Error logs an error message
func (nl *NotificationLogger) Error(message string, context ...map[string]interface{}) {
	nl.log(logrus.ErrorLevel, message, context...)
}

// log is the internal logging method
func (nl *NotificationLogger) log(level logrus.Level, message string, context ...map[string]interface{}) {
	if level < nl.logLevel {
		return
	}

	mergedContext := make(map[string]interface{})
	for k, v := range nl.context {
		mergedContext[k] = v
	}
	for _, ctx := range context {
		for k, v := range ctx {
			mergedContext[k] = v
		}
	}
	mergedContext["component"] = "notification"

	entry := nl.logger.WithFields(logrus.Fields(mergedContext))

	switch level {
	case logrus.DebugLevel:
		entry.Debug(message)
	case logrus.InfoLevel:
		entry.Info(message)
	case logrus.WarnLevel:
		entry.Warn(message)
	case logrus.ErrorLevel:
		entry.Error(message)
	}
}

// LogNotificationSuccess logs a successful delivery
func (nl *NotificationLogger) LogNotificationSuccess(notificationID, channel string, duration time.Duration) {
	nl.Info("Notification sent successfully", map[string]interface{}{
		"notification_id": notificationID,
		"channel":         channel,
		"duration_ms":     duration.Milliseconds(),
	})
}

// LogNotificationFailure logs a failed delivery
func (nl *NotificationLogger) LogNotificationFailure(notificationID, channel string, err error, duration time.Duration) {
	nl.Error("Notification failed", map[string]interface{}{
		"notification_id": notificationID,
		"channel":         channel,
		"error":           err.Error(),
		"duration_ms":     duration.Milliseconds(),
	})
}

// LogWebhookAttempt logs a webhook attempt
func (nl *NotificationLogger) LogWebhookAttempt(url, method string) {
	nl.Debug("Webhook attempt started", map[string]interface{}{
		"url":    url,
		"method": method,
	})
}

// LogWebhookResponse logs a webhook response
func (nl *NotificationLogger) LogWebhookResponse(url string, statusCode int, duration time.Duration, err error) {
	context := map[string]interface{}{
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		context["error"] = err.Error()
		nl.Error("Webhook failed", context)
	} else {
		nl.Info("Webhook completed", context)
	}
}

// LogEmailAttempt logs an email attempt
func (nl *NotificationLogger) LogEmailAttempt(to, subject string) {
	nl.Debug("Email attempt started", map[string]interface{}{
		"to":      to,
		"subject": subject,
	})
}

// LogEmailResult logs an email result
func (nl *NotificationLogger) LogEmailResult(to, subject string, success bool, duration time.Duration, err error) {
	context := map[string]interface{}{
		"to":          to,
		"subject":     subject,
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		context["error"] = err.Error()
		nl.Error("Email failed", context)
	} else {
		nl.Info("Email sent successfully", context)
	}
}

// LogRetryAttempt logs a retry attempt
func (nl *NotificationLogger) LogRetryAttempt(channel string, attempt int, maxAttempts int, delay time.Duration) {
	nl.Warn("Retrying notification delivery", map[string]interface{}{
		"channel":      channel,
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"retry_delay":  delay.String(),
	})
}

// SetLogLevel sets the log level
func (nl *NotificationLogger) SetLogLevel(level logrus.Level) {
	nl.logLevel = level
}
