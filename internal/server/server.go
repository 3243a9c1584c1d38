// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/connection"
	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/internal/notification"
	"github.com/handcraft-labs/handcraft-event-listener/internal/processor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/internal/stream"
	"github.com/handcraft-labs/handcraft-event-listener/internal/supabase"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

const (
	serverVersion = "1.0.0"

	defaultMaxBodyBytes int64 = 1 << 20
	defaultMaxBatchSize       = 100
	defaultListLimit          = 50
	maxListLimit              = 500
)

// Dependencies carries the components the HTTP server exposes
type Dependencies struct {
	Storage   storage.Storage
	Processor processor.Processor
	Notifier  notification.Notifier
	RPC       connection.Manager
	Mirror    *supabase.Mirror
	Hub       *stream.Hub
	Metrics   *metrics.Manager
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config        *config.ServerConfig
	webhookConfig *config.WebhookConfig

	storage        storage.Storage
	processor      processor.Processor
	notifier       notification.Notifier
	rpc            connection.Manager
	mirror         *supabase.Mirror
	hub            *stream.Hub
	metricsManager *metrics.Manager

	server      *http.Server
	router      *mux.Router
	rateLimiter *ipRateLimiter
	logger      *logrus.Logger

	startTime time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// WebhookResponse is the acknowledgement returned to Helius deliveries
type WebhookResponse struct {
	Success   bool   `json:"success"`
	Processed int    `json:"processed"`
	Errors    int    `json:"errors"`
	Message   string `json:"message,omitempty"`
}

// APIResponse is the envelope for api/v1 responses
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Details   string      `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(serverCfg *config.ServerConfig, webhookCfg *config.WebhookConfig, deps Dependencies) (*HTTPServer, error) {
	if serverCfg == nil || webhookCfg == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Server configuration is required", "")
	}
	if deps.Storage == nil || deps.Processor == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Storage and processor are required", "")
	}

	s := &HTTPServer{
		config:         serverCfg,
		webhookConfig:  webhookCfg,
		storage:        deps.Storage,
		processor:      deps.Processor,
		notifier:       deps.Notifier,
		rpc:            deps.RPC,
		mirror:         deps.Mirror,
		hub:            deps.Hub,
		metricsManager: deps.Metrics,
		logger:         utils.GetLogger(),
		startTime:      time.Now(),
		stopChan:       make(chan struct{}),
	}

	if webhookCfg.RateLimitRPS > 0 {
		burst := webhookCfg.RateLimitBurst
		if burst <= 0 {
			burst = webhookCfg.RateLimitRPS
		}
		s.rateLimiter = newIPRateLimiter(webhookCfg.RateLimitRPS, burst)
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port),
		Handler:      s.router,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.metricsMiddleware)

	// Helius delivery endpoint
	s.router.HandleFunc("/webhooks/helius", s.rateLimit(s.requireAuth(s.webhookHandler))).Methods("POST")

	if s.config.EnableHealth {
		s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	}
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthHandler).Methods("GET")
	api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// Event endpoints. The stream route is registered before the id route so
	// mux does not capture "stream" as an event id.
	api.HandleFunc("/events", s.listEventsHandler).Methods("GET")
	api.HandleFunc("/events/stream", s.eventStreamHandler).Methods("GET")
	api.HandleFunc("/events/{id}", s.getEventHandler).Methods("GET")

	// Reward ledger endpoints
	api.HandleFunc("/rewards", s.listRewardsHandler).Methods("GET")
	api.HandleFunc("/rewards/summary", s.rewardSummaryHandler).Methods("GET")
	api.HandleFunc("/rewards/{id}", s.getRewardHandler).Methods("GET")

	// Subscription endpoints
	api.HandleFunc("/subscriptions", s.listSubscriptionsHandler).Methods("GET")
	api.HandleFunc("/subscriptions/{subscriber}/{creator}", s.getSubscriptionHandler).Methods("GET")

	// Notification rule endpoints
	api.HandleFunc("/rules", s.listRulesHandler).Methods("GET")
	api.HandleFunc("/rules", s.requireAuth(s.createRuleHandler)).Methods("POST")
	api.HandleFunc("/rules/{id}", s.getRuleHandler).Methods("GET")
	api.HandleFunc("/rules/{id}", s.requireAuth(s.updateRuleHandler)).Methods("PUT")
	api.HandleFunc("/rules/{id}", s.requireAuth(s.deleteRuleHandler)).Methods("DELETE")

	// Notification channel endpoints
	api.HandleFunc("/channels", s.channelsHandler).Methods("GET")
	api.HandleFunc("/channels/{name}/test", s.requireAuth(s.channelTestHandler)).Methods("POST")

	// Replay endpoint
	api.HandleFunc("/replay", s.requireAuth(s.replayHandler)).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"address": s.server.Addr,
	}).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to start HTTP server", err.Error())
	case <-time.After(100 * time.Millisecond):
	}

	if s.metricsManager != nil {
		prometheus := s.metricsManager.GetPrometheusMetrics()
		prometheus.UpdateComponentHealth("server", true)
		prometheus.UpdateApplicationUptime(s.startTime)
		go s.systemMetricsUpdater()
	}

	s.logger.WithFields(logrus.Fields{
		"address": s.server.Addr,
	}).Info("HTTP server started")
	return nil
}

// Stop stops the HTTP server gracefully
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	if s.rateLimiter != nil {
		s.rateLimiter.stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to stop HTTP server gracefully", err.Error())
	}

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("server", false)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router exposes the configured router for tests
func (s *HTTPServer) Router() http.Handler {
	return s.router
}

// systemMetricsUpdater refreshes runtime and component gauges while the
// server runs
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.updateSystemMetrics()
		}
	}
}

func (s *HTTPServer) updateSystemMetrics() {
	if s.metricsManager == nil {
		return
	}

	s.metricsManager.UpdateSystemMetrics()

	prometheus := s.metricsManager.GetPrometheusMetrics()
	prometheus.UpdateApplicationUptime(s.startTime)
	prometheus.UpdateComponentHealth("storage", s.storage.Ping() == nil)
	prometheus.UpdateComponentHealth("processor", s.processor.GetHealth().Healthy)
	if s.notifier != nil {
		prometheus.UpdateComponentHealth("notifications", s.notifier.IsHealthy())
	}
	if s.rpc != nil {
		prometheus.UpdateComponentHealth("rpc", s.rpc.IsConnected())
	}
	if s.hub != nil {
		prometheus.UpdateStreamClients(s.hub.ClientCount())
	}

	if stats, err := s.storage.GetStorageStats(); err == nil {
		prometheus.UpdateActiveSubscriptions(stats.ActiveSubscriptions)
		prometheus.UpdateMirrorQueueDepth(stats.UnmirroredRewards)
	}
}

// webhookHandler ingests one Helius delivery. Helius posts batches as a JSON
// array; single-object bodies are accepted too. The acknowledgement always
// carries success, processed and errors so Helius can decide on redelivery.
func (s *HTTPServer) webhookHandler(w http.ResponseWriter, r *http.Request) {
	maxBody := s.webhookConfig.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.recordWebhook("too_large")
			s.writeWebhookError(w, http.StatusRequestEntityTooLarge, "Request body exceeds size limit")
			return
		}
		s.recordWebhook("read_error")
		s.writeWebhookError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	payloads, err := models.ParseWebhookPayloads(body)
	if err != nil {
		s.recordWebhook("malformed")
		s.writeWebhookError(w, http.StatusBadRequest, "Malformed webhook payload")
		return
	}

	maxBatch := s.webhookConfig.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatchSize
	}
	if len(payloads) > maxBatch {
		s.recordWebhook("batch_too_large")
		s.writeWebhookError(w, http.StatusBadRequest,
			fmt.Sprintf("Batch size %d exceeds limit %d", len(payloads), maxBatch))
		return
	}

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordWebhookBatchSize(len(payloads))
	}

	batch, err := s.processor.ProcessBatch(r.Context(), payloads)
	if err != nil {
		s.recordWebhook("error")
		s.writeWebhookError(w, http.StatusInternalServerError, "Failed to process webhook batch")
		return
	}

	s.recordWebhook("accepted")
	s.writeJSON(w, http.StatusOK, &WebhookResponse{
		Success:   len(batch.Errors) == 0,
		Processed: batch.Processed + batch.Skipped,
		Errors:    len(batch.Errors),
	})
}

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "handcraft-event-listener",
		"version": serverVersion,
		"uptime":  time.Since(s.startTime).String(),
	})
}

// detailedHealthHandler returns per-component health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]interface{})

	storageHealthy := s.storage.Ping() == nil
	components["storage"] = map[string]interface{}{"healthy": storageHealthy}

	procHealth := s.processor.GetHealth()
	components["processor"] = procHealth

	if s.notifier != nil {
		components["notifications"] = map[string]interface{}{"healthy": s.notifier.IsHealthy()}
	}
	if s.rpc != nil {
		components["rpc"] = map[string]interface{}{
			"healthy":   s.rpc.HealthCheckWithContext(r.Context()) == nil,
			"connected": s.rpc.IsConnected(),
		}
	}
	if s.mirror != nil {
		breakerState := s.mirror.BreakerState()
		components["mirror"] = map[string]interface{}{
			"enabled":       s.mirror.Enabled(),
			"breaker_state": breakerState,
			"healthy":       !s.mirror.Enabled() || breakerState != "open",
		}
	}
	if s.hub != nil {
		components["stream"] = map[string]interface{}{
			"running": s.hub.IsRunning(),
			"clients": s.hub.ClientCount(),
		}
	}

	healthy := storageHealthy && procHealth.Healthy
	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	s.writeData(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"healthy":    healthy,
		"version":    serverVersion,
		"uptime":     time.Since(s.startTime).String(),
		"components": components,
	})
}

// statsHandler returns statistics from all components
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(s.startTime).String(),
		"processor": s.processor.GetStats(),
		"activity":  s.processor.ActivitySnapshot(),
	}

	if storageStats, err := s.storage.GetStorageStats(); err == nil {
		stats["storage"] = storageStats
	} else {
		s.logger.WithFields(logrus.Fields{"error": err}).Warn("Failed to load storage stats")
	}
	if s.notifier != nil {
		stats["notifications"] = s.notifier.GetStats()
	}
	if s.rpc != nil {
		stats["rpc"] = s.rpc.Stats()
	}
	if s.mirror != nil {
		stats["mirror"] = s.mirror.GetStats()
	}
	if s.hub != nil {
		stats["stream"] = map[string]interface{}{"clients": s.hub.ClientCount()}
	}

	s.writeData(w, http.StatusOK, stats)
}

// listEventsHandler returns stored program events
func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.EventFilter{
		Signature: queryString(r, "signature"),
		EventName: queryString(r, "event"),
		Program:   queryString(r, "program"),
		FromSlot:  queryUint(r, "from_slot"),
		ToSlot:    queryUint(r, "to_slot"),
		Processed: queryBool(r, "processed"),
		Limit:     clampLimit(queryInt(r, "limit", defaultListLimit)),
		Offset:    queryInt(r, "offset", 0),
	}

	events, err := s.storage.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to load events", err)
		return
	}
	total, err := s.storage.GetEventCount(r.Context(), filter)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to count events", err)
		return
	}

	s.writeData(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEventHandler returns a single event by id
func (s *HTTPServer) getEventHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	event, err := s.storage.GetEvent(r.Context(), id)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to load event", err)
		return
	}
	s.writeData(w, http.StatusOK, event)
}

// listRewardsHandler returns ledger reward rows
func (s *HTTPServer) listRewardsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.RewardFilter{
		Wallet:    queryString(r, "wallet"),
		TxType:    queryString(r, "tx_type"),
		Asset:     queryString(r, "asset"),
		Signature: queryString(r, "signature"),
		MinAmount: queryUint(r, "min_amount"),
		FromTime:  queryTime(r, "from"),
		ToTime:    queryTime(r, "to"),
		Limit:     clampLimit(queryInt(r, "limit", defaultListLimit)),
		Offset:    queryInt(r, "offset", 0),
	}

	rewards, err := s.storage.GetRewardTransactions(r.Context(), filter)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to load rewards", err)
		return
	}
	total, err := s.storage.GetRewardCount(r.Context(), filter)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to count rewards", err)
		return
	}

	s.writeData(w, http.StatusOK, map[string]interface{}{
		"rewards": rewards,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// getRewardHandler returns a single ledger row by id
func (s *HTTPServer) getRewardHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	reward, err := s.storage.GetRewardTransaction(r.Context(), id)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to load reward", err)
		return
	}
	s.writeData(w, http.StatusOK, reward)
}

// rewardSummaryHandler aggregates a wallet's ledger over a time window.
// The window defaults to the last 30 days and accepts either RFC3339
// from/to bounds or a days lookback.
func (s *HTTPServer) rewardSummaryHandler(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		s.writeError(w, http.StatusBadRequest, "Query parameter wallet is required", nil)
		return
	}

	to := time.Now().UTC()
	if t := queryTime(r, "to"); t != nil {
		to = *t
	}
	from := to.AddDate(0, 0, -30)
	if t := queryTime(r, "from"); t != nil {
		from = *t
	} else if days := queryInt(r, "days", 0); days > 0 {
		from = to.AddDate(0, 0, -days)
	}

	summary, err := s.storage.GetRewardSummary(r.Context(), wallet, from, to)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to build reward summary", err)
		return
	}
	s.writeData(w, http.StatusOK, summary)
}

// listSubscriptionsHandler returns subscription rows
func (s *HTTPServer) listSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.SubscriptionFilter{
		Subscriber:     queryString(r, "subscriber"),
		Creator:        queryString(r, "creator"),
		Status:         queryString(r, "status"),
		ExpiringBefore: queryTime(r, "expiring_before"),
		Limit:          clampLimit(queryInt(r, "limit", defaultListLimit)),
		Offset:         queryInt(r, "offset", 0),
	}

	subscriptions, err := s.storage.GetSubscriptions(r.Context(), filter)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to load subscriptions", err)
		return
	}

	s.writeData(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subscriptions,
		"count":         len(subscriptions),
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	})
}

// getSubscriptionHandler returns one subscriber/creator pair
func (s *HTTPServer) getSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	subscription, err := s.storage.GetSubscription(r.Context(), vars["subscriber"], vars["creator"])
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to load subscription", err)
		return
	}
	s.writeData(w, http.StatusOK, subscription)
}

// listRulesHandler returns the configured notification rules
func (s *HTTPServer) listRulesHandler(w http.ResponseWriter, r *http.Request) {
	rules := s.processor.GetRules()
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"total": len(rules),
	})
}

// createRuleHandler adds a notification rule
func (s *HTTPServer) createRuleHandler(w http.ResponseWriter, r *http.Request) {
	var rule processor.NotificationRule
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid rule payload", err)
		return
	}

	if err := s.processor.AddRule(&rule); err != nil {
		s.writeError(w, statusForError(err), "Failed to add rule", err)
		return
	}
	s.writeData(w, http.StatusCreated, &rule)
}

// getRuleHandler returns one notification rule by id
func (s *HTTPServer) getRuleHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	for _, rule := range s.processor.GetRules() {
		if rule.ID == id {
			s.writeData(w, http.StatusOK, rule)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "Rule not found", nil)
}

// updateRuleHandler replaces a notification rule
func (s *HTTPServer) updateRuleHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var rule processor.NotificationRule
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid rule payload", err)
		return
	}
	rule.ID = id

	if err := s.processor.UpdateRule(&rule); err != nil {
		s.writeError(w, statusForError(err), "Failed to update rule", err)
		return
	}
	s.writeData(w, http.StatusOK, &rule)
}

// deleteRuleHandler removes a notification rule
func (s *HTTPServer) deleteRuleHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.processor.RemoveRule(id); err != nil {
		s.writeError(w, statusForError(err), "Failed to remove rule", err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{"removed": id})
}

// channelsHandler lists the configured notification channels
func (s *HTTPServer) channelsHandler(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Notifications are not configured", nil)
		return
	}

	channels := s.notifier.Channels()
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"channels": channels,
		"total":    len(channels),
	})
}

type channelTestRequest struct {
	Target  string `json:"target,omitempty"`
	Message string `json:"message,omitempty"`
}

// channelTestHandler queues a test notification on one channel
func (s *HTTPServer) channelTestHandler(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Notifications are not configured", nil)
		return
	}
	name := mux.Vars(r)["name"]

	// Body is optional for channel tests
	var req channelTestRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&req)

	message := req.Message
	if message == "" {
		message = "Test notification from handcraft-event-listener"
	}

	n := &models.Notification{
		ID:      fmt.Sprintf("channel-test-%d", time.Now().UnixNano()),
		Type:    models.NotificationType(name),
		Title:   "Channel test",
		Message: message,
		Target:  req.Target,
		Data: map[string]interface{}{
			"rule": "channel-test",
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.notifier.Notify(r.Context(), n); err != nil {
		s.writeError(w, statusForError(err), "Failed to queue test notification", err)
		return
	}
	s.writeData(w, http.StatusAccepted, map[string]interface{}{
		"notification_id": n.ID,
		"channel":         name,
	})
}

type replayRequest struct {
	Signature string `json:"signature"`
}

// replayHandler fetches one transaction over RPC and runs it through the
// processing pipeline, for recovering deliveries Helius never made
func (s *HTTPServer) replayHandler(w http.ResponseWriter, r *http.Request) {
	if s.rpc == nil {
		s.writeError(w, http.StatusServiceUnavailable, "RPC connection is not configured", nil)
		return
	}

	var req replayRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid replay payload", err)
		return
	}
	if !utils.IsValidSignature(req.Signature) {
		s.writeError(w, http.StatusBadRequest, "Invalid transaction signature", nil)
		return
	}

	payload, err := s.rpc.GetTransaction(r.Context(), req.Signature)
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to fetch transaction", err)
		return
	}

	batch, err := s.processor.ProcessBatch(r.Context(), []*models.TransactionPayload{payload})
	if err != nil {
		s.writeError(w, statusForError(err), "Failed to process transaction", err)
		return
	}

	s.writeData(w, http.StatusOK, map[string]interface{}{
		"signature": req.Signature,
		"processed": batch.Processed,
		"skipped":   batch.Skipped,
		"failed":    batch.Failed,
		"events":    batch.EventsDecoded,
		"rewards":   batch.RewardsWritten,
		"errors":    batch.Errors,
	})
}

// eventStreamHandler upgrades the connection and hands it to the stream hub
func (s *HTTPServer) eventStreamHandler(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil || !s.config.EnableStream {
		s.writeError(w, http.StatusNotFound, "Event stream is disabled", nil)
		return
	}
	if !s.hub.IsRunning() {
		s.writeError(w, http.StatusServiceUnavailable, "Event stream is unavailable", nil)
		return
	}

	if err := s.hub.HandleConnection(w, r); err != nil {
		// The upgrader writes its own response on handshake failure
		s.logger.WithFields(logrus.Fields{
			"remote_addr": r.RemoteAddr,
			"error":       err,
		}).Warn("Stream connection rejected")
	}
}

// writeJSON writes a raw JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithFields(logrus.Fields{"error": err}).Error("Failed to encode response")
	}
}

// writeData wraps data in the API envelope
func (s *HTTPServer) writeData(w http.ResponseWriter, statusCode int, data interface{}) {
	s.writeJSON(w, statusCode, &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// writeError writes an error response in the API envelope
func (s *HTTPServer) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := &APIResponse{
		Success:   false,
		Error:     message,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		response.Details = err.Error()
	}
	s.writeJSON(w, statusCode, response)
}

// writeWebhookError writes a delivery rejection in the webhook response shape
func (s *HTTPServer) writeWebhookError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, &WebhookResponse{
		Success:   false,
		Processed: 0,
		Errors:    1,
		Message:   message,
	})
}

func (s *HTTPServer) recordWebhook(outcome string) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordWebhookRequest(outcome)
	}
}

// statusForError maps an application error to an HTTP status code
func statusForError(err error) int {
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}

	switch appErr.Code {
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeValidation:
		return http.StatusBadRequest
	case utils.ErrCodeAuthentication:
		return http.StatusUnauthorized
	case utils.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case utils.ErrCodeRPC, utils.ErrCodeConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

func queryString(r *http.Request, key string) *string {
	if raw := r.URL.Query().Get(key); raw != "" {
		return &raw
	}
	return nil
}

func queryUint(r *http.Request, key string) *uint64 {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return &v
		}
	}
	return nil
}

func queryBool(r *http.Request, key string) *bool {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return &v
		}
	}
	return nil
}

func queryTime(r *http.Request, key string) *time.Time {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := time.Parse(time.RFC3339, raw); err == nil {
			utc := v.UTC()
			return &utc
		}
	}
	return nil
}
