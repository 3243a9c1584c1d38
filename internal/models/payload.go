package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TransactionPayload is a single Helius webhook transaction notification.
// Raw webhooks nest log messages and signatures under meta/transaction;
// enhanced payloads flatten signature, timestamp and logs to the top level.
// Both shapes are accepted.
type TransactionPayload struct {
	Signature   string              `json:"signature,omitempty"`
	Slot        uint64              `json:"slot"`
	Timestamp   int64               `json:"timestamp,omitempty"`
	BlockTime   int64               `json:"blockTime,omitempty"`
	Logs        []string            `json:"logs,omitempty"`
	Meta        *PayloadMeta        `json:"meta,omitempty"`
	Transaction *PayloadTransaction `json:"transaction,omitempty"`
}

// PayloadMeta carries transaction metadata from a raw webhook
type PayloadMeta struct {
	Err         json.RawMessage `json:"err,omitempty"`
	Fee         uint64          `json:"fee,omitempty"`
	LogMessages []string        `json:"logMessages,omitempty"`
}

// PayloadTransaction carries the signed transaction envelope
type PayloadTransaction struct {
	Signatures []string `json:"signatures,omitempty"`
}

// ParseWebhookPayloads decodes a webhook request body. Helius delivers
// batches as a JSON array; single-object bodies are accepted too.
func ParseWebhookPayloads(body []byte) ([]*TransactionPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty request body")
	}

	if trimmed[0] == '[' {
		var payloads []*TransactionPayload
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, err
		}
		return payloads, nil
	}

	var payload TransactionPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, err
	}
	return []*TransactionPayload{&payload}, nil
}

// TxSignature returns the transaction signature regardless of payload shape
func (p *TransactionPayload) TxSignature() string {
	if p.Signature != "" {
		return p.Signature
	}
	if p.Transaction != nil && len(p.Transaction.Signatures) > 0 {
		return p.Transaction.Signatures[0]
	}
	return ""
}

// LogMessages returns the transaction log lines regardless of payload shape
func (p *TransactionPayload) LogMessages() []string {
	if len(p.Logs) > 0 {
		return p.Logs
	}
	if p.Meta != nil {
		return p.Meta.LogMessages
	}
	return nil
}

// Failed reports whether the transaction failed on chain
func (p *TransactionPayload) Failed() bool {
	if p.Meta == nil || len(p.Meta.Err) == 0 {
		return false
	}
	return string(p.Meta.Err) != "null"
}

// BlockTimestamp returns the block time, falling back to the receive time
// when the payload carries none
func (p *TransactionPayload) BlockTimestamp() time.Time {
	if p.Timestamp > 0 {
		return time.Unix(p.Timestamp, 0).UTC()
	}
	if p.BlockTime > 0 {
		return time.Unix(p.BlockTime, 0).UTC()
	}
	return time.Now().UTC()
}
