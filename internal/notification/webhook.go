// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// WebhookSender delivers notifications over HTTP. Retries are driven by the
// notification manager, so each Send is a single request.
type WebhookSender struct {
	config     *config.NotificationConfig
	logger     *NotificationLogger
	httpClient *http.Client
}

// WebhookPayload defines the outbound webhook body
type WebhookPayload struct {
	ID        string                 `json:"id"`
	EventID   string                 `json:"event_id,omitempty"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(cfg *config.NotificationConfig, logger *NotificationLogger) *WebhookSender {
	timeout := cfg.NotificationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &WebhookSender{
		config: cfg,
		logger: logger.WithField("sender", "webhook"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Name returns the channel name
func (ws *WebhookSender) Name() string {
	return string(models.NotificationTypeWebhook)
}

// Start starts the webhook sender
func (ws *WebhookSender) Start(ctx context.Context) error {
	ws.logger.Info("Webhook sender started")
	return nil
}

// Stop stops the webhook sender
func (ws *WebhookSender) Stop() error {
	ws.httpClient.CloseIdleConnections()
	ws.logger.Info("Webhook sender stopped")
	return nil
}

// Send posts the notification to its target URL
func (ws *WebhookSender) Send(ctx context.Context, notification *models.Notification) error {
	if notification.Target == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Webhook target URL is required", notification.ID)
	}

	startTime := time.Now()
	ws.logger.LogWebhookAttempt(notification.Target, http.MethodPost)

	payload := &WebhookPayload{
		ID:        notification.ID,
		EventID:   notification.EventID,
		Title:     notification.Title,
		Message:   notification.Message,
		Data:      notification.Data,
		Timestamp: time.Now().UTC(),
		Source:    "handcraft-event-listener",
		Version:   "1.0",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notification.Target, bytes.NewReader(jsonData))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to create webhook request", err.Error())
	}
	ws.setRequestHeaders(req)

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		ws.logger.LogWebhookResponse(notification.Target, 0, time.Since(startTime), err)
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to send webhook", err.Error())
	}
	defer resp.Body.Close()

	// Sample the body for error reporting without buffering large responses
	bodyBuffer := make([]byte, 1024)
	n, _ := resp.Body.Read(bodyBuffer)
	body := string(bodyBuffer[:n])

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := utils.NewAppError(utils.ErrCodeConnection,
			"Webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, body))
		ws.logger.LogWebhookResponse(notification.Target, resp.StatusCode, time.Since(startTime), statusErr)
		return statusErr
	}

	ws.logger.LogWebhookResponse(notification.Target, resp.StatusCode, time.Since(startTime), nil)
	return nil
}

// setRequestHeaders sets HTTP request headers
func (ws *WebhookSender) setRequestHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Handcraft-Event-Listener/1.0")
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if requestID, err := utils.GenerateID(); err == nil {
		req.Header.Set("X-Request-ID", requestID)
	}
}
