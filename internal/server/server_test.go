// File: internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/handcraft-labs/handcraft-event-listener/internal/anchor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/internal/connection"
	"github.com/handcraft-labs/handcraft-event-listener/internal/ledger"
	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/internal/notification"
	"github.com/handcraft-labs/handcraft-event-listener/internal/processor"
	"github.com/handcraft-labs/handcraft-event-listener/internal/storage"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

const testToken = "webhook-token-test"

var (
	testProgram = base58.Encode(bytes.Repeat([]byte{7}, 32))
	buyerKey    = base58.Encode(bytes.Repeat([]byte{1}, 32))
	creatorKey  = base58.Encode(bytes.Repeat([]byte{2}, 32))
	assetKey    = base58.Encode(bytes.Repeat([]byte{3}, 32))
)

type testServer struct {
	server *HTTPServer
	store  storage.Storage
}

func newTestServer(t *testing.T, mutate func(serverCfg *config.ServerConfig, webhookCfg *config.WebhookConfig, deps *Dependencies)) *testServer {
	t.Helper()

	utils.InitLogger("error", "text", "stdout", "")

	storeCfg := &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "server_test.db"),
		MaxConnections:   10,
		MaxIdleTime:      15 * time.Minute,
	}
	store, err := storage.NewStorage(storeCfg)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	ldg := ledger.NewLedger(&config.LedgerConfig{
		PlatformFeeBps: 250,
		PointsDivisor:  1_000_000,
		RenewalGrace:   72 * time.Hour,
	}, store)

	notifier := notification.NewNotificationManager(&config.NotificationConfig{
		Enabled:             true,
		QueueSize:           32,
		RetryDelay:          10 * time.Millisecond,
		MaxRetries:          1,
		DefaultChannel:      "log",
		NotificationTimeout: 2 * time.Second,
	}, store)
	require.NoError(t, notifier.Start(context.Background()))
	t.Cleanup(func() { notifier.Stop() })

	proc := processor.NewEventProcessor(store, ldg, anchor.NewTransactionDecoder(testProgram), notifier, &config.ProcessorConfig{
		QueueSize:               100,
		MaxConcurrentProcessing: 4,
		ProcessingTimeout:       5 * time.Second,
		EnableAggregation:       true,
		AggregationWindow:       24 * time.Hour,
		EnableValidation:        true,
	})
	require.NoError(t, proc.Start(context.Background()))
	t.Cleanup(func() { proc.Stop() })

	serverCfg := &config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		EnableHealth: true,
	}
	webhookCfg := &config.WebhookConfig{
		AuthToken:    testToken,
		MaxBodyBytes: 1 << 20,
		MaxBatchSize: 100,
	}
	deps := Dependencies{
		Storage:   store,
		Processor: proc,
		Notifier:  notifier,
	}
	if mutate != nil {
		mutate(serverCfg, webhookCfg, &deps)
	}

	srv, err := NewHTTPServer(serverCfg, webhookCfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		if srv.rateLimiter != nil {
			srv.rateLimiter.stop()
		}
	})

	return &testServer{server: srv, store: store}
}

func (ts *testServer) request(t *testing.T, method, path string, headers map[string]string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.7:40000"
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testToken}
}

func appendU16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func appendPubkey(t *testing.T, b []byte, key string) []byte {
	raw, err := base58.Decode(key)
	require.NoError(t, err)
	require.Len(t, raw, 32)
	return append(b, raw...)
}

func encodePurchase(t *testing.T, price uint64) string {
	disc := anchor.Discriminator(anchor.EventAssetPurchased)
	payload := append([]byte{}, disc[:]...)
	payload = appendPubkey(t, payload, assetKey)
	payload = appendPubkey(t, payload, buyerKey)
	payload = appendPubkey(t, payload, creatorKey)
	payload = appendU64(payload, price)
	payload = appendU16(payload, 500)
	payload = append(payload, 3)
	return base64.StdEncoding.EncodeToString(payload)
}

func testSignature(seed byte) string {
	return base58.Encode(bytes.Repeat([]byte{seed}, 64))
}

func purchasePayload(t *testing.T, seed byte, slot, price uint64) *models.TransactionPayload {
	return &models.TransactionPayload{
		Signature: testSignature(seed),
		Slot:      slot,
		Timestamp: 1_756_100_000,
		Logs: []string{
			"Program " + testProgram + " invoke [1]",
			"Program log: Instruction: PurchaseAsset",
			"Program data: " + encodePurchase(t, price),
			"Program " + testProgram + " success",
		},
	}
}

func marshalPayloads(t *testing.T, payloads ...*models.TransactionPayload) []byte {
	body, err := json.Marshal(payloads)
	require.NoError(t, err)
	return body
}

func TestWebhookRequiresAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	body := marshalPayloads(t, purchasePayload(t, 10, 351_200_500, 1_500_000_000))

	rec := ts.request(t, http.MethodPost, "/webhooks/helius", nil, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodPost, "/webhooks/helius",
		map[string]string{"Authorization": "Bearer wrong-token"}, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Both the Bearer scheme and a bare token are accepted
	rec = ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodPost, "/webhooks/helius",
		map[string]string{"Authorization": testToken},
		marshalPayloads(t, purchasePayload(t, 11, 351_200_501, 1_500_000_000)))
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Logf("✓ webhook auth enforced")
}

func TestWebhookCustomAuthHeader(t *testing.T) {
	ts := newTestServer(t, func(serverCfg *config.ServerConfig, webhookCfg *config.WebhookConfig, deps *Dependencies) {
		webhookCfg.AuthHeader = "X-Webhook-Auth"
	})
	body := marshalPayloads(t, purchasePayload(t, 12, 351_200_502, 1_500_000_000))

	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodPost, "/webhooks/helius",
		map[string]string{"X-Webhook-Auth": testToken}, body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookProcessesBatch(t *testing.T) {
	ts := newTestServer(t, nil)
	body := marshalPayloads(t,
		purchasePayload(t, 20, 351_200_510, 2_000_000_000),
		purchasePayload(t, 21, 351_200_511, 3_000_000_000),
	)

	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Processed)
	assert.Equal(t, 0, resp.Errors)

	ctx := context.Background()
	events, err := ts.store.GetEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	rewards, err := ts.store.GetRewardTransactions(ctx, models.RewardFilter{})
	require.NoError(t, err)
	assert.Len(t, rewards, 2)

	t.Logf("✓ webhook batch stored %d events and %d rewards", len(events), len(rewards))
}

func TestWebhookAcceptsSingleObject(t *testing.T) {
	ts := newTestServer(t, nil)

	single, err := json.Marshal(purchasePayload(t, 30, 351_200_520, 1_000_000_000))
	require.NoError(t, err)

	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), single)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Processed)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.Errors)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t, func(serverCfg *config.ServerConfig, webhookCfg *config.WebhookConfig, deps *Dependencies) {
		webhookCfg.MaxBodyBytes = 512
	})

	body := marshalPayloads(t,
		purchasePayload(t, 40, 351_200_530, 1_000_000_000),
		purchasePayload(t, 41, 351_200_531, 1_000_000_000),
	)
	require.Greater(t, len(body), 512)

	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhookRejectsOversizedBatch(t *testing.T) {
	ts := newTestServer(t, func(serverCfg *config.ServerConfig, webhookCfg *config.WebhookConfig, deps *Dependencies) {
		webhookCfg.MaxBatchSize = 2
	})

	body := marshalPayloads(t,
		purchasePayload(t, 50, 351_200_540, 1_000_000_000),
		purchasePayload(t, 51, 351_200_541, 1_000_000_000),
		purchasePayload(t, 52, 351_200_542, 1_000_000_000),
	)

	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Nothing from the rejected batch is stored
	events, err := ts.store.GetEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWebhookRateLimit(t *testing.T) {
	ts := newTestServer(t, func(serverCfg *config.ServerConfig, webhookCfg *config.WebhookConfig, deps *Dependencies) {
		webhookCfg.RateLimitRPS = 1
		webhookCfg.RateLimitBurst = 1
	})
	body := marshalPayloads(t, purchasePayload(t, 60, 351_200_550, 1_000_000_000))

	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// API reads are not rate limited
	rec = ts.request(t, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	parsed := gjson.ParseBytes(rec.Body.Bytes())
	assert.True(t, parsed.Get("success").Bool())
	assert.Equal(t, "healthy", parsed.Get("data.status").String())
	assert.NotEmpty(t, parsed.Get("timestamp").String())

	// Root health route mirrors the API one
	rec = ts.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDetailedHealthReportsComponents(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/v1/health/detailed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	parsed := gjson.ParseBytes(rec.Body.Bytes())
	assert.True(t, parsed.Get("data.healthy").Bool())
	assert.True(t, parsed.Get("data.components.storage.healthy").Bool())
	assert.True(t, parsed.Get("data.components.processor.healthy").Bool())
	assert.True(t, parsed.Get("data.components.notifications.healthy").Bool())
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	body := marshalPayloads(t, purchasePayload(t, 70, 351_200_560, 1_500_000_000))
	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	parsed := gjson.ParseBytes(rec.Body.Bytes())
	assert.True(t, parsed.Get("success").Bool())
	assert.Equal(t, int64(1), parsed.Get("data.storage.total_events").Int())
	assert.Equal(t, int64(1), parsed.Get("data.storage.total_rewards").Int())
	assert.True(t, parsed.Get("data.processor").Exists())
	assert.True(t, parsed.Get("data.activity").Exists())
}

func TestEventEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	body := marshalPayloads(t,
		purchasePayload(t, 80, 351_200_570, 1_000_000_000),
		purchasePayload(t, 81, 351_200_571, 2_000_000_000),
	)
	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/events?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	parsed := gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, int64(2), parsed.Get("data.total").Int())
	require.Len(t, parsed.Get("data.events").Array(), 2)

	events, err := ts.store.GetEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	rec = ts.request(t, http.MethodGet, "/api/v1/events/"+events[0].ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsed = gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, events[0].ID, parsed.Get("data.id").String())

	rec = ts.request(t, http.MethodGet, "/api/v1/events/no-such-event", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Signature filter narrows the list
	rec = ts.request(t, http.MethodGet, "/api/v1/events?signature="+testSignature(80), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsed = gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, int64(1), parsed.Get("data.total").Int())
}

func TestRewardEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	body := marshalPayloads(t, purchasePayload(t, 90, 351_200_580, 4_000_000_000))
	rec := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/rewards?wallet="+creatorKey, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	parsed := gjson.ParseBytes(rec.Body.Bytes())
	require.Equal(t, int64(1), parsed.Get("data.total").Int())
	rewardID := parsed.Get("data.rewards.0.id").String()
	require.NotEmpty(t, rewardID)

	rec = ts.request(t, http.MethodGet, "/api/v1/rewards/"+rewardID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsed = gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, rewardID, parsed.Get("data.id").String())
	assert.Equal(t, int64(4_000_000_000), parsed.Get("data.amount_lamports").Int())

	rec = ts.request(t, http.MethodGet, "/api/v1/rewards/no-such-reward", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRewardSummaryRequiresWallet(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/v1/rewards/summary", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := marshalPayloads(t, purchasePayload(t, 91, 351_200_581, 2_000_000_000))
	resp := ts.request(t, http.MethodPost, "/webhooks/helius", authHeaders(), body)
	require.Equal(t, http.StatusOK, resp.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/rewards/summary?wallet="+creatorKey, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	parsed := gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, creatorKey, parsed.Get("data.wallet").String())
	assert.Equal(t, int64(1), parsed.Get("data.tx_count").Int())
}

func TestSubscriptionEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	expires := time.Now().UTC().Add(30 * 24 * time.Hour)
	sub := &models.Subscription{
		ID:         "sub-test-1",
		Subscriber: buyerKey,
		Creator:    creatorKey,
		Tier:       2,
		Status:     models.SubscriptionActive,
		StartedAt:  time.Now().UTC(),
		ExpiresAt:  expires,
	}
	require.NoError(t, ts.store.UpsertSubscription(ctx, sub))

	rec := ts.request(t, http.MethodGet, "/api/v1/subscriptions?status=active", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsed := gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, int64(1), parsed.Get("data.count").Int())

	rec = ts.request(t, http.MethodGet,
		fmt.Sprintf("/api/v1/subscriptions/%s/%s", buyerKey, creatorKey), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsed = gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, buyerKey, parsed.Get("data.subscriber").String())
	assert.Equal(t, int64(2), parsed.Get("data.tier").Int())

	rec = ts.request(t, http.MethodGet,
		fmt.Sprintf("/api/v1/subscriptions/%s/%s", creatorKey, buyerKey), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuleCRUD(t *testing.T) {
	ts := newTestServer(t, nil)

	rule := map[string]interface{}{
		"id":      "big-purchases",
		"name":    "Big purchases",
		"enabled": true,
		"event_names": []string{
			anchor.EventAssetPurchased,
		},
		"min_lamports": 1_000_000_000,
		"channel":      "log",
	}
	body, err := json.Marshal(rule)
	require.NoError(t, err)

	// Mutations require auth
	rec := ts.request(t, http.MethodPost, "/api/v1/rules", nil, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/v1/rules", authHeaders(), body)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate ids are rejected
	rec = ts.request(t, http.MethodPost, "/api/v1/rules", authHeaders(), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/rules", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsed := gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, int64(1), parsed.Get("data.total").Int())

	rec = ts.request(t, http.MethodGet, "/api/v1/rules/big-purchases", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsed = gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, "Big purchases", parsed.Get("data.name").String())

	rule["name"] = "Very big purchases"
	body, err = json.Marshal(rule)
	require.NoError(t, err)
	rec = ts.request(t, http.MethodPut, "/api/v1/rules/big-purchases", authHeaders(), body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/rules/big-purchases", nil, nil)
	parsed = gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, "Very big purchases", parsed.Get("data.name").String())

	rec = ts.request(t, http.MethodDelete, "/api/v1/rules/big-purchases", authHeaders(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/rules/big-purchases", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.request(t, http.MethodDelete, "/api/v1/rules/big-purchases", authHeaders(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	t.Logf("✓ rule lifecycle over HTTP")
}

func TestChannelEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/v1/channels", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parsed := gjson.ParseBytes(rec.Body.Bytes())
	channels := parsed.Get("data.channels").Array()
	require.NotEmpty(t, channels)
	assert.Equal(t, "log", channels[0].String())

	rec = ts.request(t, http.MethodPost, "/api/v1/channels/log/test", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/v1/channels/log/test", authHeaders(),
		[]byte(`{"message":"ping"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	parsed = gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, "log", parsed.Get("data.channel").String())
	assert.NotEmpty(t, parsed.Get("data.notification_id").String())

	// Unknown channels are rejected by the notifier
	rec = ts.request(t, http.MethodPost, "/api/v1/channels/pager/test", authHeaders(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// stubRPC serves canned transactions for replay tests
type stubRPC struct {
	payloads map[string]*models.TransactionPayload
}

func (s *stubRPC) Call(ctx context.Context, method string, params ...interface{}) (gjson.Result, error) {
	return gjson.Result{}, nil
}

func (s *stubRPC) GetSlot(ctx context.Context) (uint64, error) { return 351_300_000, nil }

func (s *stubRPC) GetTransaction(ctx context.Context, signature string) (*models.TransactionPayload, error) {
	payload, ok := s.payloads[signature]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeRPC, "Transaction not found", signature)
	}
	return payload, nil
}

func (s *stubRPC) HealthCheck() error                               { return nil }
func (s *stubRPC) HealthCheckWithContext(ctx context.Context) error { return nil }
func (s *stubRPC) IsConnected() bool                                { return true }
func (s *stubRPC) Close() error                                     { return nil }
func (s *stubRPC) Stats() connection.ConnectionStats                { return connection.ConnectionStats{} }
func (s *stubRPC) SetMetricsManager(manager *metrics.Manager)       {}

func TestReplayEndpoint(t *testing.T) {
	payload := purchasePayload(t, 100, 351_200_600, 5_000_000_000)
	rpc := &stubRPC{payloads: map[string]*models.TransactionPayload{
		payload.Signature: payload,
	}}

	ts := newTestServer(t, func(serverCfg *config.ServerConfig, webhookCfg *config.WebhookConfig, deps *Dependencies) {
		deps.RPC = rpc
	})

	rec := ts.request(t, http.MethodPost, "/api/v1/replay", nil,
		[]byte(`{"signature":"`+payload.Signature+`"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/v1/replay", authHeaders(),
		[]byte(`{"signature":"not-a-signature"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/v1/replay", authHeaders(),
		[]byte(`{"signature":"`+payload.Signature+`"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	parsed := gjson.ParseBytes(rec.Body.Bytes())
	assert.Equal(t, int64(1), parsed.Get("data.processed").Int())
	assert.Equal(t, int64(1), parsed.Get("data.rewards").Int())

	events, err := ts.store.GetEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// Unknown signatures surface the RPC failure
	missing := testSignature(101)
	rec = ts.request(t, http.MethodPost, "/api/v1/replay", authHeaders(),
		[]byte(`{"signature":"`+missing+`"}`))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	t.Logf("✓ replay recovered a missed transaction")
}

func TestStreamRouteGatedByConfig(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.request(t, http.MethodGet, "/api/v1/events/stream", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
