package domain

import (
	"encoding/json"
	"time"
)

// LedgerEntry is one immutable line in an append-only event stream.
// Entries are never updated or deleted; the latest entry's metadata
// snapshot carries the entity state at the time of the event.
type LedgerEntry struct {
	EventID       string         `json:"event_id"`
	Type          string         `json:"type"` // dotted path, e.g. payment.authorized
	Ref           string         `json:"ref"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	MerchantID    string         `json:"merchant_id"`
	Provider      string         `json:"provider,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata"`
}

// OutboxEvent is a domain event queued for external delivery after the
// ledger append and snapshot write that produced it.
type OutboxEvent struct {
	EventID       string         `json:"event_id"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Snapshot converts an entity into the map form stored in ledger entry
// metadata and outbox payloads.
func Snapshot(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
