package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handcraft-labs/handcraft-event-listener/internal/config"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

var testSignature = base58.Encode(bytes.Repeat([]byte{5}, 64))

// newRPCServer fakes a Solana JSON-RPC node
func newRPCServer(t *testing.T, handle func(method string, params []json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handle(req.Method, req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func solanaHandler(currentSlot uint64) func(string, []json.RawMessage) (interface{}, *rpcError) {
	return func(method string, params []json.RawMessage) (interface{}, *rpcError) {
		switch method {
		case "getHealth":
			return "ok", nil
		case "getSlot":
			return currentSlot, nil
		case "getVersion":
			return map[string]string{"solana-core": "1.18.15"}, nil
		case "getTransaction":
			return map[string]interface{}{
				"slot":      currentSlot,
				"blockTime": 1_756_100_000,
				"meta": map[string]interface{}{
					"err": nil,
					"fee": 5000,
					"logMessages": []string{
						"Program 11111111111111111111111111111111 invoke [1]",
						"Program data: aGVsbG8=",
						"Program 11111111111111111111111111111111 success",
					},
				},
			}, nil
		default:
			return nil, &rpcError{Code: -32601, Message: "Method not found"}
		}
	}
}

func newTestManager(t *testing.T, primary string, backups ...string) *RPCManager {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	return NewRPCManager(&config.SolanaConfig{
		NodeURL:        primary,
		BackupNodes:    backups,
		Commitment:     "confirmed",
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  2,
		RetryDelay:     10 * time.Millisecond,
	})
}

func TestRPCClientCall(t *testing.T) {
	server := newRPCServer(t, solanaHandler(351_200_400))
	defer server.Close()

	client := NewRPCClient(server.URL, 5*time.Second)
	ctx := context.Background()

	t.Run("GetSlot", func(t *testing.T) {
		slot, err := client.GetSlot(ctx, "confirmed")
		require.NoError(t, err)
		assert.Equal(t, uint64(351_200_400), slot)
	})

	t.Run("GetHealth", func(t *testing.T) {
		require.NoError(t, client.GetHealth(ctx))
	})

	t.Run("GetVersion", func(t *testing.T) {
		version, err := client.GetVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, "1.18.15", version)
	})

	t.Run("RPCErrorSurfaced", func(t *testing.T) {
		_, err := client.Call(ctx, "noSuchMethod")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Method not found")
	})
}

func TestManagerFailover(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	healthy := newRPCServer(t, solanaHandler(351_200_500))
	defer healthy.Close()

	manager := newTestManager(t, broken.URL, healthy.URL)

	slot, err := manager.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(351_200_500), slot)

	stats := manager.Stats()
	assert.GreaterOrEqual(t, stats.Failovers, uint64(1))
	assert.Equal(t, healthy.URL, stats.CurrentEndpoint)
	assert.GreaterOrEqual(t, stats.FailedRequests, uint64(1))
	t.Logf("✓ Failed over after %d failed requests", stats.FailedRequests)
}

func TestManagerAllEndpointsDown(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	manager := newTestManager(t, broken.URL)

	_, err := manager.GetSlot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "All RPC endpoints failed")
	assert.False(t, manager.IsConnected())
}

func TestManagerHealthCheck(t *testing.T) {
	server := newRPCServer(t, solanaHandler(351_200_600))
	defer server.Close()

	manager := newTestManager(t, server.URL)
	require.NoError(t, manager.HealthCheckWithContext(context.Background()))

	stats := manager.Stats()
	assert.True(t, stats.IsHealthy)
	assert.Equal(t, uint64(351_200_600), stats.CurrentSlot)
	assert.Equal(t, "1.18.15", stats.NodeVersion)
	assert.True(t, manager.IsConnected())
}

func TestGetTransaction(t *testing.T) {
	server := newRPCServer(t, solanaHandler(351_200_700))
	defer server.Close()

	manager := newTestManager(t, server.URL)
	ctx := context.Background()

	t.Run("ReshapedAsWebhookPayload", func(t *testing.T) {
		payload, err := manager.GetTransaction(ctx, testSignature)
		require.NoError(t, err)

		assert.Equal(t, testSignature, payload.TxSignature())
		assert.Equal(t, uint64(351_200_700), payload.Slot)
		assert.Len(t, payload.LogMessages(), 3)
		assert.False(t, payload.Failed())
		assert.Equal(t, int64(1_756_100_000), payload.BlockTimestamp().Unix())
	})

	t.Run("RejectsMalformedSignature", func(t *testing.T) {
		_, err := manager.GetTransaction(ctx, "garbage")
		require.Error(t, err)
	})

	t.Run("NotFound", func(t *testing.T) {
		nullServer := newRPCServer(t, func(method string, params []json.RawMessage) (interface{}, *rpcError) {
			return nil, nil
		})
		defer nullServer.Close()

		nullManager := newTestManager(t, nullServer.URL)
		_, err := nullManager.GetTransaction(ctx, testSignature)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestTransactionFetcher(t *testing.T) {
	server := newRPCServer(t, solanaHandler(351_200_800))
	defer server.Close()

	manager := newTestManager(t, server.URL)
	fetcher := NewTransactionFetcher(manager, 4, 100)

	signatures := []string{
		base58.Encode(bytes.Repeat([]byte{1}, 64)),
		base58.Encode(bytes.Repeat([]byte{2}, 64)),
		base58.Encode(bytes.Repeat([]byte{3}, 64)),
	}

	results := fetcher.FetchAll(context.Background(), signatures)
	require.Len(t, results, 3)

	for i, result := range results {
		assert.Equal(t, signatures[i], result.Signature, "results keep input order")
		require.NoError(t, result.Err)
		require.NotNil(t, result.Payload)
		assert.Equal(t, signatures[i], result.Payload.TxSignature())
	}
	t.Logf("✓ Fetched %d transactions", len(results))
}
