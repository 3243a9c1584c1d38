package connection

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// Manager defines the Solana RPC access interface
type Manager interface {
	Call(ctx context.Context, method string, params ...interface{}) (gjson.Result, error)
	GetSlot(ctx context.Context) (uint64, error)
	GetTransaction(ctx context.Context, signature string) (*models.TransactionPayload, error)
	HealthCheck() error
	HealthCheckWithContext(ctx context.Context) error
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
	SetMetricsManager(manager *metrics.Manager)
}

// RPCManager implements the Manager interface with endpoint failover
type RPCManager struct {
	config          *config.SolanaConfig
	clients         []*RPCClient
	currentIndex    int
	mu              sync.RWMutex
	logger          *logrus.Logger
	stats           ConnectionStats
	lastHealthCheck time.Time
	isHealthy       bool
	metricsManager  *metrics.Manager
}

// ConnectionStats holds RPC connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Failovers       uint64    `json:"failovers"`
	CurrentEndpoint string    `json:"current_endpoint"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	CurrentSlot     uint64    `json:"current_slot"`
	NodeVersion     string    `json:"node_version"`
}

// NewRPCManager creates a manager over the primary node and its backups
func NewRPCManager(cfg *config.SolanaConfig) *RPCManager {
	urls := []string{cfg.NodeURL}
	urls = append(urls, cfg.BackupNodes...)

	clients := make([]*RPCClient, 0, len(urls))
	for _, url := range urls {
		clients = append(clients, NewRPCClient(url, cfg.RequestTimeout))
	}

	return &RPCManager{
		config:  cfg,
		clients: clients,
		logger:  utils.GetLogger(),
		stats: ConnectionStats{
			CurrentEndpoint: cfg.NodeURL,
		},
	}
}

// SetMetricsManager attaches the metrics manager for RPC instrumentation
func (m *RPCManager) SetMetricsManager(manager *metrics.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metricsManager = manager
}

// current returns the client for the active endpoint
func (m *RPCManager) current() *RPCClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[m.currentIndex]
}

// failover advances to the next endpoint after a failure
func (m *RPCManager) failover() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clients) < 2 {
		return
	}
	m.currentIndex = (m.currentIndex + 1) % len(m.clients)
	m.stats.Failovers++
	m.stats.CurrentEndpoint = m.clients[m.currentIndex].Endpoint()

	m.logger.WithFields(logrus.Fields{
		"endpoint": m.stats.CurrentEndpoint,
	}).Warn("Failing over to backup RPC endpoint")
}

func (m *RPCManager) recordRPC(endpoint, method string, err error, start time.Time) {
	if m.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		m.metricsManager.GetPrometheusMetrics().RecordConnectionError(endpoint, "rpc_call_failed")
	}
	m.metricsManager.GetPrometheusMetrics().RecordRPCRequest(endpoint, method, status, time.Since(start))
}

// Call performs a JSON-RPC request, rotating through backup endpoints and
// retrying with the configured delay until one answers
func (m *RPCManager) Call(ctx context.Context, method string, params ...interface{}) (gjson.Result, error) {
	attempts := m.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		for range m.clients {
			client := m.current()
			start := time.Now()
			result, err := client.Call(ctx, method, params...)
			m.recordRPC(client.Endpoint(), method, err, start)

			m.mu.Lock()
			m.stats.TotalRequests++
			if err != nil {
				m.stats.FailedRequests++
			}
			m.mu.Unlock()

			if err == nil {
				return result, nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return gjson.Result{}, lastErr
			}

			m.logger.WithFields(logrus.Fields{
				"endpoint": client.Endpoint(),
				"method":   method,
				"error":    err,
			}).Warn("RPC call failed")
			m.failover()
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return gjson.Result{}, ctx.Err()
			case <-time.After(m.config.RetryDelay):
			}
		}
	}

	m.mu.Lock()
	m.isHealthy = false
	m.mu.Unlock()

	detail := "all attempts exhausted"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	return gjson.Result{}, utils.NewAppError(utils.ErrCodeConnection, "All RPC endpoints failed", detail)
}

// GetSlot returns the current slot at the configured commitment
func (m *RPCManager) GetSlot(ctx context.Context) (uint64, error) {
	result, err := m.Call(ctx, "getSlot", map[string]string{"commitment": m.config.Commitment})
	if err != nil {
		return 0, err
	}

	slot := result.Uint()
	m.mu.Lock()
	m.stats.CurrentSlot = slot
	m.mu.Unlock()
	return slot, nil
}

// GetTransaction fetches a confirmed transaction by signature and returns it
// in webhook payload form
func (m *RPCManager) GetTransaction(ctx context.Context, signature string) (*models.TransactionPayload, error) {
	if !utils.IsValidSignature(signature) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid transaction signature", signature)
	}

	result, err := m.Call(ctx, "getTransaction", signature, map[string]interface{}{
		"commitment":                     m.config.Commitment,
		"encoding":                       "json",
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		return nil, err
	}

	if !result.Exists() || result.Type == gjson.Null {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Transaction not found",
			utils.ShortSignature(signature))
	}

	return payloadFromTransaction(signature, result), nil
}

// HealthCheck performs a comprehensive health check
func (m *RPCManager) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return m.HealthCheckWithContext(ctx)
}

// HealthCheckWithContext probes the active endpoint and refreshes slot and
// version statistics
func (m *RPCManager) HealthCheckWithContext(ctx context.Context) error {
	client := m.current()

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.GetHealth(checkCtx); err != nil {
		m.mu.Lock()
		m.isHealthy = false
		m.stats.IsHealthy = false
		m.mu.Unlock()

		m.failover()
		return utils.NewAppError(utils.ErrCodeConnection, "Node health check failed", err.Error())
	}

	slot, err := client.GetSlot(checkCtx, m.config.Commitment)
	if err != nil {
		m.mu.Lock()
		m.isHealthy = false
		m.stats.IsHealthy = false
		m.mu.Unlock()
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to get current slot", err.Error())
	}

	version, err := client.GetVersion(checkCtx)
	if err != nil {
		// Version is informational only
		m.logger.WithFields(logrus.Fields{"error": err}).Debug("Failed to get node version")
	}

	m.mu.Lock()
	m.stats.CurrentSlot = slot
	if version != "" {
		m.stats.NodeVersion = version
	}
	m.stats.LastHealthCheck = time.Now()
	m.stats.IsHealthy = true
	m.lastHealthCheck = time.Now()
	m.isHealthy = true
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"endpoint":     client.Endpoint(),
		"current_slot": slot,
		"version":      version,
	}).Debug("RPC health check passed")

	return nil
}

// IsConnected reports whether the last health check within the staleness
// window succeeded
func (m *RPCManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isHealthy && time.Since(m.lastHealthCheck) < 5*time.Minute
}

// Close releases all pooled connections
func (m *RPCManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, client := range m.clients {
		client.CloseIdleConnections()
	}
	m.isHealthy = false
	m.logger.Info("RPC connection manager closed")
	return nil
}

// Stats returns connection statistics
func (m *RPCManager) Stats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Endpoints returns all configured endpoint URLs, active endpoint first
func (m *RPCManager) Endpoints() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	urls := make([]string, 0, len(m.clients))
	for i := range m.clients {
		urls = append(urls, m.clients[(m.currentIndex+i)%len(m.clients)].Endpoint())
	}
	return urls
}
