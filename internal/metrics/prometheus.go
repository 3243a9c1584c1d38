package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the Handcraft event listener
type PrometheusMetrics struct {
	// Event processing metrics
	EventsProcessedTotal      *prometheus.CounterVec
	PayloadsProcessedTotal    prometheus.Counter
	EventProcessingDuration   *prometheus.HistogramVec
	PayloadProcessingDuration prometheus.Histogram

	// Webhook ingest metrics
	WebhookRequestsTotal *prometheus.CounterVec
	WebhookBatchSize     prometheus.Histogram

	// Decode metrics
	DecodeFailuresTotal *prometheus.CounterVec
	UnknownEventsTotal  prometheus.Counter

	// Connection and error metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Chain metrics
	LastProcessedSlot prometheus.Gauge
	SlotLag           prometheus.Gauge

	// Ledger metrics
	RewardsRecordedTotal *prometheus.CounterVec
	RewardLamportsTotal  *prometheus.CounterVec
	ActiveSubscriptions  prometheus.Gauge

	// Mirror metrics
	MirrorSyncTotal  *prometheus.CounterVec
	MirrorQueueDepth prometheus.Gauge

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec
	DatabaseConnections       prometheus.Gauge

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec
	NotificationDuration      *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Stream metrics
	StreamClientsConnected prometheus.Gauge

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		// Event processing metrics
		EventsProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_events_processed_total",
				Help: "Total number of program events processed",
			},
			[]string{"program", "event_name", "status"},
		),

		PayloadsProcessedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "handcraft_payloads_processed_total",
				Help: "Total number of webhook transaction payloads processed",
			},
		),

		EventProcessingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handcraft_event_processing_duration_seconds",
				Help:    "Time spent processing individual program events",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"program", "event_name"},
		),

		PayloadProcessingDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "handcraft_payload_processing_duration_seconds",
				Help:    "Time spent processing individual transaction payloads",
				Buckets: prometheus.DefBuckets,
			},
		),

		// Webhook ingest metrics
		WebhookRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_webhook_requests_total",
				Help: "Total number of webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),

		WebhookBatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "handcraft_webhook_batch_size",
				Help:    "Number of transaction payloads per webhook delivery",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),

		// Decode metrics
		DecodeFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_decode_failures_total",
				Help: "Total number of event payloads that failed to decode",
			},
			[]string{"reason"},
		),

		UnknownEventsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "handcraft_unknown_events_total",
				Help: "Total number of program data entries with unrecognized discriminators",
			},
		),

		// Connection and error metrics
		ConnectionErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_connection_errors_total",
				Help: "Total number of connection errors to Solana RPC nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_rpc_requests_total",
				Help: "Total number of RPC requests made to Solana nodes",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handcraft_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to Solana nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		// Chain metrics
		LastProcessedSlot: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "handcraft_last_processed_slot",
				Help: "Highest slot processed by the webhook pipeline",
			},
		),

		SlotLag: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "handcraft_slot_lag",
				Help: "Slots between the chain tip and the last processed slot",
			},
		),

		// Ledger metrics
		RewardsRecordedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_rewards_recorded_total",
				Help: "Total number of reward ledger rows written",
			},
			[]string{"tx_type"},
		),

		RewardLamportsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_reward_lamports_total",
				Help: "Total lamports recorded in the reward ledger",
			},
			[]string{"tx_type"},
		),

		ActiveSubscriptions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "handcraft_active_subscriptions",
				Help: "Number of subscriptions currently in active status",
			},
		),

		// Mirror metrics
		MirrorSyncTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_mirror_sync_total",
				Help: "Total number of reward rows pushed to the Supabase mirror",
			},
			[]string{"status"},
		),

		MirrorQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "handcraft_mirror_queue_depth",
				Help: "Number of reward rows waiting to be mirrored",
			},
		),

		// Storage metrics
		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handcraft_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		DatabaseConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "handcraft_database_connections",
				Help: "Number of active database connections",
			},
		),

		// Notification metrics
		NotificationsSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_notifications_sent_total",
				Help: "Total number of notifications sent",
			},
			[]string{"channel", "type"},
		),

		NotificationFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_notification_failures_total",
				Help: "Total number of failed notifications",
			},
			[]string{"channel", "type", "error"},
		),

		NotificationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handcraft_notification_duration_seconds",
				Help:    "Duration of notification delivery",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel", "type"},
		),

		// API metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handcraft_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handcraft_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Stream metrics
		StreamClientsConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "handcraft_stream_clients_connected",
				Help: "Number of WebSocket clients subscribed to the event stream",
			},
		),

		// Application health metrics
		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "handcraft_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "handcraft_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "handcraft_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "handcraft_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordEventProcessed records a processed event
func (m *PrometheusMetrics) RecordEventProcessed(program, eventName, status string) {
	m.EventsProcessedTotal.WithLabelValues(program, eventName, status).Inc()
}

// RecordEventProcessingDuration records the time taken to process an event
func (m *PrometheusMetrics) RecordEventProcessingDuration(program, eventName string, duration time.Duration) {
	m.EventProcessingDuration.WithLabelValues(program, eventName).Observe(duration.Seconds())
}

// RecordPayloadProcessed records a processed transaction payload
func (m *PrometheusMetrics) RecordPayloadProcessed() {
	m.PayloadsProcessedTotal.Inc()
}

// RecordPayloadProcessingDuration records the time taken to process a payload
func (m *PrometheusMetrics) RecordPayloadProcessingDuration(duration time.Duration) {
	m.PayloadProcessingDuration.Observe(duration.Seconds())
}

// RecordWebhookRequest records a webhook delivery outcome
func (m *PrometheusMetrics) RecordWebhookRequest(outcome string) {
	m.WebhookRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordWebhookBatchSize records the payload count of a webhook delivery
func (m *PrometheusMetrics) RecordWebhookBatchSize(size int) {
	m.WebhookBatchSize.Observe(float64(size))
}

// RecordDecodeFailure records an event payload that failed to decode
func (m *PrometheusMetrics) RecordDecodeFailure(reason string) {
	m.DecodeFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordUnknownEvent records a program data entry with an unrecognized discriminator
func (m *PrometheusMetrics) RecordUnknownEvent() {
	m.UnknownEventsTotal.Inc()
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// UpdateLastProcessedSlot updates the last processed slot metric
func (m *PrometheusMetrics) UpdateLastProcessedSlot(slot uint64) {
	m.LastProcessedSlot.Set(float64(slot))
}

// UpdateSlotLag updates the slot lag metric
func (m *PrometheusMetrics) UpdateSlotLag(lag uint64) {
	m.SlotLag.Set(float64(lag))
}

// RecordRewardRecorded records a reward ledger row write
func (m *PrometheusMetrics) RecordRewardRecorded(txType string, lamports uint64) {
	m.RewardsRecordedTotal.WithLabelValues(txType).Inc()
	m.RewardLamportsTotal.WithLabelValues(txType).Add(float64(lamports))
}

// UpdateActiveSubscriptions updates the active subscriptions metric
func (m *PrometheusMetrics) UpdateActiveSubscriptions(count int64) {
	m.ActiveSubscriptions.Set(float64(count))
}

// RecordMirrorSync records the outcome of a mirror push
func (m *PrometheusMetrics) RecordMirrorSync(status string) {
	m.MirrorSyncTotal.WithLabelValues(status).Inc()
}

// UpdateMirrorQueueDepth updates the mirror backlog metric
func (m *PrometheusMetrics) UpdateMirrorQueueDepth(depth int64) {
	m.MirrorQueueDepth.Set(float64(depth))
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// UpdateDatabaseConnections updates the database connections metric
func (m *PrometheusMetrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// RecordNotificationSent records a sent notification
func (m *PrometheusMetrics) RecordNotificationSent(channel, notificationType string, duration time.Duration) {
	m.NotificationsSentTotal.WithLabelValues(channel, notificationType).Inc()
	m.NotificationDuration.WithLabelValues(channel, notificationType).Observe(duration.Seconds())
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(channel, notificationType, errorType string) {
	m.NotificationFailuresTotal.WithLabelValues(channel, notificationType, errorType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateStreamClients updates the connected stream clients metric
func (m *PrometheusMetrics) UpdateStreamClients(count int) {
	m.StreamClientsConnected.Set(float64(count))
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
