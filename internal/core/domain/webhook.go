package domain

import "time"

// ProviderWebhook is the signed envelope posted by providers (and the
// outbox dispatcher) to the webhook ingress.
type ProviderWebhook struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Provider  string         `json:"provider,omitempty"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// ProcessedWebhook records that a webhook id was applied, for dedup.
type ProcessedWebhook struct {
	ProcessedAt time.Time `json:"processed_at"`
	EventType   string    `json:"event_type"`
}
