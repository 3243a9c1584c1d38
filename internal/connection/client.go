package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// rpcRequest is a JSON-RPC 2.0 request envelope
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

// RPCClient speaks JSON-RPC 2.0 to a single Solana node
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	nextID     uint64
}

// NewRPCClient creates a client bound to one endpoint
func NewRPCClient(endpoint string, timeout time.Duration) *RPCClient {
	return &RPCClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the node URL this client talks to
func (c *RPCClient) Endpoint() string {
	return c.endpoint
}

// Call performs one JSON-RPC request and returns the parsed result
func (c *RPCClient) Call(ctx context.Context, method string, params ...interface{}) (gjson.Result, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return gjson.Result{}, utils.NewAppError(utils.ErrCodeRPC, "Failed to encode RPC request", err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, utils.NewAppError(utils.ErrCodeRPC, "Failed to build RPC request", err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return gjson.Result{}, utils.NewAppError(utils.ErrCodeConnection, "RPC request failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return gjson.Result{}, utils.NewAppError(utils.ErrCodeConnection, "RPC endpoint returned error status",
			fmt.Sprintf("%s: %d", method, resp.StatusCode))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return gjson.Result{}, utils.NewAppError(utils.ErrCodeRPC, "Failed to decode RPC response", err.Error())
	}

	if rpcResp.Error != nil {
		return gjson.Result{}, utils.NewAppError(utils.ErrCodeRPC, "RPC call returned error",
			fmt.Sprintf("%s: %d %s", method, rpcResp.Error.Code, rpcResp.Error.Message))
	}

	return gjson.ParseBytes(rpcResp.Result), nil
}

// GetHealth returns nil when the node reports itself healthy
func (c *RPCClient) GetHealth(ctx context.Context) error {
	result, err := c.Call(ctx, "getHealth")
	if err != nil {
		return err
	}
	if result.String() != "ok" {
		return utils.NewAppError(utils.ErrCodeConnection, "Node reported unhealthy", result.String())
	}
	return nil
}

// GetSlot returns the current slot at the given commitment
func (c *RPCClient) GetSlot(ctx context.Context, commitment string) (uint64, error) {
	result, err := c.Call(ctx, "getSlot", map[string]string{"commitment": commitment})
	if err != nil {
		return 0, err
	}
	return result.Uint(), nil
}

// GetVersion returns the node's solana-core version string
func (c *RPCClient) GetVersion(ctx context.Context) (string, error) {
	result, err := c.Call(ctx, "getVersion")
	if err != nil {
		return "", err
	}
	return result.Get("solana-core").String(), nil
}

// CloseIdleConnections releases pooled HTTP connections
func (c *RPCClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// payloadFromTransaction reshapes a getTransaction result into the webhook
// payload form so replayed transactions flow through the same decode path as
// live deliveries
func payloadFromTransaction(signature string, result gjson.Result) *models.TransactionPayload {
	payload := &models.TransactionPayload{
		Signature: signature,
		Slot:      result.Get("slot").Uint(),
		BlockTime: result.Get("blockTime").Int(),
		Meta: &models.PayloadMeta{
			Fee: result.Get("meta.fee").Uint(),
		},
	}

	for _, line := range result.Get("meta.logMessages").Array() {
		payload.Meta.LogMessages = append(payload.Meta.LogMessages, line.String())
	}

	if errField := result.Get("meta.err"); errField.Exists() && errField.Raw != "null" {
		payload.Meta.Err = json.RawMessage(errField.Raw)
	}

	return payload
}
