package models

import (
	"time"
)

// ProgramEvent represents a decoded Anchor event emitted by the Handcraft program
type ProgramEvent struct {
	ID          string                 `json:"id" db:"id"`
	Signature   string                 `json:"signature" db:"signature"`
	Slot        uint64                 `json:"slot" db:"slot"`
	LogIndex    uint                   `json:"log_index" db:"log_index"`
	Program     string                 `json:"program" db:"program"`
	EventName   string                 `json:"event_name" db:"event_name"`
	Data        map[string]interface{} `json:"data" db:"data"`
	BlockTime   time.Time              `json:"block_time" db:"block_time"`
	ReceivedAt  time.Time              `json:"received_at" db:"received_at"`
	Processed   bool                   `json:"processed" db:"processed"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty" db:"processed_at"`
}

// EventFilter for querying events
type EventFilter struct {
	Signature *string `json:"signature,omitempty"`
	EventName *string `json:"event_name,omitempty"`
	Program   *string `json:"program,omitempty"`
	FromSlot  *uint64 `json:"from_slot,omitempty"`
	ToSlot    *uint64 `json:"to_slot,omitempty"`
	Processed *bool   `json:"processed,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	Offset    int     `json:"offset,omitempty"`
}
