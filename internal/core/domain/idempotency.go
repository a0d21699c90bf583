package domain

import (
	"encoding/json"
	"time"
)

// IdempotencyRecord caches the first response produced under a key so
// client retries replay it byte for byte.
type IdempotencyRecord struct {
	RequestHash string          `json:"request_hash"`
	Response    json.RawMessage `json:"response"`
	StatusCode  int             `json:"status_code"`
	CreatedAt   time.Time       `json:"created_at"`
}
