// File: internal/notification/email.go
package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// EmailSender delivers notifications over SMTP
type EmailSender struct {
	config *EmailSenderConfig
	logger *NotificationLogger
	auth   smtp.Auth
}

// EmailSenderConfig holds email sender configuration
type EmailSenderConfig struct {
	SMTPHost  string        `json:"smtp_host"`
	SMTPPort  int           `json:"smtp_port"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	FromEmail string        `json:"from_email"`
	FromName  string        `json:"from_name"`
	UseTLS    bool          `json:"use_tls"`
	Timeout   time.Duration `json:"timeout"`
}

// NewEmailSender creates an email sender configured from the environment
func NewEmailSender(cfg *config.NotificationConfig, logger *NotificationLogger) *EmailSender {
	emailConfig := &EmailSenderConfig{
		SMTPHost:  envOrDefault("SMTP_HOST", "localhost"),
		SMTPPort:  envIntOrDefault("SMTP_PORT", 587),
		Username:  os.Getenv("SMTP_USERNAME"),
		Password:  os.Getenv("SMTP_PASSWORD"),
		FromEmail: envOrDefault("SMTP_FROM", "noreply@handcraft.so"),
		FromName:  "Handcraft Event Listener",
		UseTLS:    envOrDefault("SMTP_USE_TLS", "true") == "true",
		Timeout:   cfg.NotificationTimeout,
	}

	return &EmailSender{
		config: emailConfig,
		logger: logger.WithField("sender", "email"),
	}
}

// Name returns the channel name
func (es *EmailSender) Name() string {
	return string(models.NotificationTypeEmail)
}

// Start starts the email sender
func (es *EmailSender) Start(ctx context.Context) error {
	if es.config.Username != "" && es.config.Password != "" {
		es.auth = smtp.PlainAuth("", es.config.Username, es.config.Password, es.config.SMTPHost)
	}

	es.logger.Info("Email sender started", map[string]interface{}{
		"smtp_host": es.config.SMTPHost,
		"smtp_port": es.config.SMTPPort,
		"use_tls":   es.config.UseTLS,
	})
	return nil
}

// Stop stops the email sender
func (es *EmailSender) Stop() error {
	es.logger.Info("Email sender stopped")
	return nil
}

// Send delivers the notification to its target address
func (es *EmailSender) Send(ctx context.Context, notification *models.Notification) error {
	if !isValidEmail(notification.Target) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid email address", notification.Target)
	}

	startTime := time.Now()
	es.logger.LogEmailAttempt(notification.Target, notification.Title)

	message := es.buildEmailMessage(notification)

	var err error
	if es.config.UseTLS {
		err = es.sendEmailTLS(notification.Target, message)
	} else {
		err = es.sendEmailPlain(notification.Target, message)
	}

	es.logger.LogEmailResult(notification.Target, notification.Title, err == nil, time.Since(startTime), err)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to send email", err.Error())
	}
	return nil
}

// sendEmailTLS sends email over a TLS connection
func (es *EmailSender) sendEmailTLS(to, message string) error {
	addr := fmt.Sprintf("%s:%d", es.config.SMTPHost, es.config.SMTPPort)

	tlsConfig := &tls.Config{
		ServerName: es.config.SMTPHost,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect with TLS: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, es.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if es.auth != nil {
		if err := client.Auth(es.auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := client.Mail(es.config.FromEmail); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", to, err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	defer writer.Close()

	if _, err := writer.Write([]byte(message)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// sendEmailPlain sends email without TLS
func (es *EmailSender) sendEmailPlain(to, message string) error {
	addr := fmt.Sprintf("%s:%d", es.config.SMTPHost, es.config.SMTPPort)
	return smtp.SendMail(addr, es.auth, es.config.FromEmail, []string{to}, []byte(message))
}

// buildEmailMessage builds the email message
func (es *EmailSender) buildEmailMessage(notification *models.Notification) string {
	var message strings.Builder

	message.WriteString(fmt.Sprintf("From: %s <%s>\r\n", es.config.FromName, es.config.FromEmail))
	message.WriteString(fmt.Sprintf("To: %s\r\n", notification.Target))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", notification.Title))
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	message.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	message.WriteString("\r\n")

	message.WriteString("<html><body>")
	message.WriteString(fmt.Sprintf("<h2>%s</h2>", notification.Title))
	message.WriteString(fmt.Sprintf("<p>%s</p>", notification.Message))
	if len(notification.Data) > 0 {
		message.WriteString("<table border='1' cellpadding='5' cellspacing='0'>")
		for key, value := range notification.Data {
			message.WriteString(fmt.Sprintf("<tr><td><strong>%s</strong></td><td>%v</td></tr>", key, value))
		}
		message.WriteString("</table>")
	}
	message.WriteString(fmt.Sprintf("<p><small>Sent at: %s</small></p>", time.Now().Format(time.RFC3339)))
	message.WriteString("</body></html>")

	return message.String()
}

// isValidEmail performs basic email validation
func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	local, domain := parts[0], parts[1]
	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if len(domain) == 0 || len(domain) > 253 {
		return false
	}

	return true
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
