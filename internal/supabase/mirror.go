// File: internal/supabase/mirror.go
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

const (
	rewardsTable = "reward_transactions"

	maxResponseBytes  = 1 << 20
	maxErrorBodyBytes = 4 << 10
)

// Mirror replicates reward ledger rows to the platform Supabase database over
// PostgREST. Pushes at ingest time are best effort: a failed push leaves the
// row unmirrored and the scheduled reconcile retries it later. All requests
// run through a circuit breaker so a down Supabase never stalls the pipeline.
type Mirror struct {
	config         *config.SupabaseConfig
	storage        storage.Storage
	httpClient     *http.Client
	breaker        *gobreaker.CircuitBreaker[[]byte]
	logger         *logrus.Logger
	metricsManager *metrics.Manager

	mu    sync.Mutex
	stats MirrorStats
}

// MirrorStats holds mirror push statistics
type MirrorStats struct {
	Enabled      bool       `json:"enabled"`
	Pushed       uint64     `json:"pushed"`
	Failed       uint64     `json:"failed"`
	Reconciled   uint64     `json:"reconciled"`
	LastFlush    *time.Time `json:"last_flush,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	BreakerState string     `json:"breaker_state"`
}

// rewardRow is the PostgREST payload for one ledger row. Field names match
// the platform's reward_transactions columns; nullable columns are sent as
// explicit nulls so merge-duplicates upserts clear stale values.
type rewardRow struct {
	ID             string    `json:"id"`
	Signature      string    `json:"signature"`
	Slot           uint64    `json:"slot"`
	LogIndex       uint      `json:"log_index"`
	EventName      string    `json:"event_name"`
	TxType         string    `json:"tx_type"`
	SourceWallet   string    `json:"source_wallet"`
	DestWallet     string    `json:"dest_wallet"`
	Asset          *string   `json:"asset"`
	AmountLamports uint64    `json:"amount_lamports"`
	FeeLamports    uint64    `json:"fee_lamports"`
	Points         uint64    `json:"points"`
	Rarity         *string   `json:"rarity"`
	Memo           *string   `json:"memo"`
	BlockTime      time.Time `json:"block_time"`
}

// NewMirror creates a mirror client for the configured Supabase project
func NewMirror(cfg *config.SupabaseConfig, store storage.Storage) *Mirror {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	reset := cfg.ResetTimeout
	if reset <= 0 {
		reset = time.Minute
	}

	m := &Mirror{
		config:  cfg,
		storage: store,
		logger:  utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	m.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "supabase-mirror",
		MaxRequests: 1,
		Timeout:     reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    breakerStateString(from),
				"to":      breakerStateString(to),
			}).Warn("Supabase circuit breaker changed state")
		},
	})

	return m
}

// SetMetricsManager attaches the metrics manager for mirror instrumentation
func (m *Mirror) SetMetricsManager(manager *metrics.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metricsManager = manager
}

// Enabled reports whether mirroring is configured
func (m *Mirror) Enabled() bool {
	return m.config.Enabled && m.config.URL != ""
}

// MirrorReward pushes one freshly written ledger row. Called from the ingest
// pipeline, so failures are returned for logging but must not fail the event.
func (m *Mirror) MirrorReward(ctx context.Context, reward *models.RewardTransaction) error {
	if !m.Enabled() || reward == nil {
		return nil
	}

	if err := m.pushRewards(ctx, []*models.RewardTransaction{reward}); err != nil {
		m.recordOutcome(0, 1, err)
		return err
	}

	if err := m.storage.MarkRewardMirrored(ctx, reward.ID); err != nil {
		m.recordOutcome(0, 1, err)
		return err
	}

	m.recordOutcome(1, 0, nil)
	return nil
}

// Flush re-pushes unmirrored reward rows in one bounded batch and returns the
// number of rows confirmed mirrored. Runs on the reconcile schedule.
func (m *Mirror) Flush(ctx context.Context, batchSize int) (int, error) {
	if !m.Enabled() {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	rewards, err := m.storage.GetUnmirroredRewards(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	if len(rewards) == 0 {
		m.updateQueueDepth()
		return 0, nil
	}

	if err := m.pushRewards(ctx, rewards); err != nil {
		m.recordOutcome(0, len(rewards), err)
		m.updateQueueDepth()
		return 0, err
	}

	mirrored := 0
	for _, reward := range rewards {
		if err := m.storage.MarkRewardMirrored(ctx, reward.ID); err != nil {
			m.logger.WithFields(logrus.Fields{
				"reward_id": reward.ID,
				"error":     err,
			}).Warn("Failed to mark reward mirrored")
			continue
		}
		mirrored++
	}

	m.mu.Lock()
	m.stats.Reconciled += uint64(mirrored)
	m.mu.Unlock()
	m.recordOutcome(mirrored, 0, nil)
	m.updateQueueDepth()

	m.logger.WithFields(logrus.Fields{
		"fetched":  len(rewards),
		"mirrored": mirrored,
	}).Info("Mirror reconcile pass complete")

	return mirrored, nil
}

// Ping verifies PostgREST connectivity without writing anything
func (m *Mirror) Ping(ctx context.Context) error {
	if !m.Enabled() {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Supabase mirror is disabled", "")
	}
	_, err := m.request(ctx, http.MethodGet, rewardsTable, "select=id&limit=1", nil, "")
	return err
}

// BreakerState returns the circuit breaker state as a string
func (m *Mirror) BreakerState() string {
	return breakerStateString(m.breaker.State())
}

// GetStats returns a snapshot of mirror statistics
func (m *Mirror) GetStats() *MirrorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.Enabled = m.Enabled()
	stats.BreakerState = breakerStateString(m.breaker.State())
	return &stats
}

// pushRewards upserts a batch of ledger rows keyed on the deterministic row
// id, so Helius re-delivery and reconcile overlap are both no-ops
func (m *Mirror) pushRewards(ctx context.Context, rewards []*models.RewardTransaction) error {
	rows := make([]rewardRow, 0, len(rewards))
	for _, reward := range rewards {
		rows = append(rows, rewardRow{
			ID:             reward.ID,
			Signature:      reward.Signature,
			Slot:           reward.Slot,
			LogIndex:       reward.LogIndex,
			EventName:      reward.EventName,
			TxType:         reward.TxType,
			SourceWallet:   reward.SourceWallet,
			DestWallet:     reward.DestWallet,
			Asset:          reward.Asset,
			AmountLamports: reward.AmountLamports,
			FeeLamports:    reward.FeeLamports,
			Points:         reward.Points,
			Rarity:         reward.Rarity,
			Memo:           reward.Memo,
			BlockTime:      reward.BlockTime.UTC(),
		})
	}

	_, err := m.request(ctx, http.MethodPost, rewardsTable, "on_conflict=id", rows,
		"resolution=merge-duplicates,return=minimal")
	return err
}

// request runs one PostgREST call through the circuit breaker
func (m *Mirror) request(ctx context.Context, method, table, query string, body interface{}, prefer string) ([]byte, error) {
	return m.breaker.Execute(func() ([]byte, error) {
		return m.do(ctx, method, table, query, body, prefer)
	})
}

func (m *Mirror) do(ctx context.Context, method, table, query string, body interface{}, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", strings.TrimRight(m.config.URL, "/"), table)
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to encode mirror payload", err.Error())
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeMirror, "Failed to create mirror request", err.Error())
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", m.config.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+m.config.ServiceKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Supabase request failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, utils.NewAppError(utils.ErrCodeMirror, "Supabase rejected mirror request",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, strings.TrimSpace(string(sample))))
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// recordOutcome updates stats and the mirror sync metric per row
func (m *Mirror) recordOutcome(pushed, failed int, err error) {
	m.mu.Lock()
	m.stats.Pushed += uint64(pushed)
	m.stats.Failed += uint64(failed)
	now := time.Now()
	m.stats.LastFlush = &now
	if err != nil {
		msg := err.Error()
		m.stats.LastError = &msg
	}
	manager := m.metricsManager
	m.mu.Unlock()

	if manager == nil {
		return
	}
	for i := 0; i < pushed; i++ {
		manager.GetPrometheusMetrics().RecordMirrorSync("success")
	}
	for i := 0; i < failed; i++ {
		manager.GetPrometheusMetrics().RecordMirrorSync("error")
	}
}

// updateQueueDepth refreshes the unmirrored backlog gauge
func (m *Mirror) updateQueueDepth() {
	m.mu.Lock()
	manager := m.metricsManager
	m.mu.Unlock()
	if manager == nil {
		return
	}

	stats, err := m.storage.GetStorageStats()
	if err != nil {
		return
	}
	manager.GetPrometheusMetrics().UpdateMirrorQueueDepth(stats.UnmirroredRewards)
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
