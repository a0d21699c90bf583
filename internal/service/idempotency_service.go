package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/internal/core/ports"
	"payrail/pkg/apperror"

	"github.com/rs/zerolog"
)

const idempotencyTTL = 24 * time.Hour

// IdempotencyService deduplicates client retries by key and body hash.
// Keys are scoped by the caller, e.g. "payments:create:<key>".
type IdempotencyService struct {
	store *filestore.Store
	log   zerolog.Logger
}

func NewIdempotencyService(store *filestore.Store, log zerolog.Logger) *IdempotencyService {
	return &IdempotencyService{store: store, log: log}
}

// ComputeHash returns the SHA-256 of a canonical serialization of v:
// marshal, decode into generic maps, re-marshal. Go sorts map keys on
// encode, so two bodies with the same fields hash identically
// regardless of field order.
func ComputeHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Check returns the cached response for key when the stored hash
// matches, nil for an unseen or expired key, and an IdempotencyConflict
// error when the key is known with a different hash.
func (s *IdempotencyService) Check(key, hash string) (*ports.OpResponse, error) {
	records := map[string]domain.IdempotencyRecord{}
	if err := s.store.ReadJSON(pathIdempotencyKeys, &records); err != nil {
		if err == filestore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	rec, ok := records[key]
	if !ok {
		return nil, nil
	}
	if time.Since(rec.CreatedAt) > idempotencyTTL {
		s.log.Debug().Str("key", key).Msg("idempotency record expired")
		return nil, nil
	}
	if rec.RequestHash != hash {
		return nil, apperror.IdempotencyConflict(key)
	}
	s.log.Info().Str("key", key).Msg("idempotent replay")
	return &ports.OpResponse{Status: rec.StatusCode, Body: rec.Response}, nil
}

// Store persists the response for key so later retries replay it.
func (s *IdempotencyService) Store(key, hash string, resp ports.OpResponse) error {
	records := map[string]domain.IdempotencyRecord{}
	return s.store.Update(pathIdempotencyKeys, &records, func() error {
		records[key] = domain.IdempotencyRecord{
			RequestHash: hash,
			Response:    resp.Body,
			StatusCode:  resp.Status,
			CreatedAt:   time.Now().UTC(),
		}
		return nil
	})
}
