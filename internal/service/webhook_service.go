package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/pkg/apperror"
	"payrail/pkg/correlation"

	"github.com/rs/zerolog"
)

// SignWebhook returns the signature header value for a payload:
// sha256=<hex(hmac_sha256(secret, payload))>.
func SignWebhook(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a signature header in constant time.
func VerifyWebhookSignature(secret string, payload []byte, signature string) bool {
	expected := SignWebhook(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookService verifies, deduplicates, and applies inbound provider
// webhooks. Only conservative forward transitions are applied;
// everything else is acknowledged without state change.
type WebhookService struct {
	store  *filestore.Store
	ledger *LedgerService
	secret string
	log    zerolog.Logger
}

func NewWebhookService(store *filestore.Store, ledger *LedgerService, secret string, log zerolog.Logger) *WebhookService {
	return &WebhookService{store: store, ledger: ledger, secret: secret, log: log}
}

// Handle processes one signed webhook body. An invalid or missing
// signature fails with Unauthorized.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (map[string]any, error) {
	if !VerifyWebhookSignature(s.secret, body, signature) {
		s.log.Warn().Msg("invalid webhook signature")
		return nil, apperror.Unauthorized("Invalid webhook signature")
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperror.BadRequest("Malformed webhook body")
	}

	// Accept both the provider envelope and raw outbox payloads.
	webhookID := stringField(payload, "id", "event_id")
	eventType := stringField(payload, "type", "event_type")
	data, ok := payload["data"].(map[string]any)
	if !ok {
		if data, ok = payload["payload"].(map[string]any); !ok {
			data = payload
		}
	}

	processed := map[string]domain.ProcessedWebhook{}
	if err := s.store.ReadJSON(pathProcessedWebhooks, &processed); err != nil && err != filestore.ErrNotFound {
		return nil, apperror.Internal(err)
	}
	if _, seen := processed[webhookID]; seen {
		s.log.Info().Str("webhook_id", webhookID).Msg("duplicate webhook, skipping")
		return map[string]any{"status": "duplicate", "webhook_id": webhookID}, nil
	}

	if paymentID, _ := data["payment_id"].(string); paymentID != "" {
		if err := s.applyPaymentEvent(ctx, paymentID, eventType, data, payload); err != nil {
			return nil, err
		}
	}

	processed = map[string]domain.ProcessedWebhook{}
	if err := s.store.Update(pathProcessedWebhooks, &processed, func() error {
		processed[webhookID] = domain.ProcessedWebhook{
			ProcessedAt: time.Now().UTC(),
			EventType:   eventType,
		}
		return nil
	}); err != nil {
		return nil, apperror.Internal(err)
	}

	s.log.Info().
		Str("webhook_id", webhookID).
		Str("event_type", eventType).
		Msg("webhook processed")
	return map[string]any{"status": "processed", "webhook_id": webhookID}, nil
}

// applyPaymentEvent applies the conservative forward transitions and
// records a webhook.* ledger entry for known payments.
func (s *WebhookService) applyPaymentEvent(ctx context.Context, paymentID, eventType string, data, payload map[string]any) error {
	payments := map[string]*domain.PaymentIntent{}
	if err := s.store.ReadJSON(pathPaymentsStore, &payments); err != nil && err != filestore.ErrNotFound {
		return apperror.Internal(err)
	}
	payment, ok := payments[paymentID]
	if !ok {
		s.log.Warn().Str("payment_id", paymentID).Msg("webhook for unknown payment")
		return nil
	}

	mutated := false
	switch {
	case eventType == "payment.authorized" && payment.State == domain.PaymentCreated:
		payment.State = domain.PaymentAuthorized
		if ref, _ := data["provider_ref"].(string); ref != "" {
			payment.ProviderRef = ref
		}
		mutated = true
	case eventType == "payment.captured" && payment.State == domain.PaymentAuthorized:
		payment.State = domain.PaymentCaptured
		mutated = true
	case eventType == "payment.declined" && payment.State == domain.PaymentCreated:
		payment.State = domain.PaymentDeclined
		if payment.Metadata == nil {
			payment.Metadata = map[string]any{}
		}
		payment.Metadata["decline_reason"] = data["decline_reason"]
		mutated = true
	default:
		s.log.Info().
			Str("payment_id", paymentID).
			Str("event_type", eventType).
			Str("state", string(payment.State)).
			Msg("webhook ignored, no applicable transition")
	}

	if mutated {
		payment.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(pathPaymentsStore, &payments, func() error {
			payments[paymentID] = payment
			return nil
		}); err != nil {
			return apperror.Internal(err)
		}
	}

	provider, _ := payload["provider"].(string)
	amount := payment.Amount
	if a, ok := data["amount"].(float64); ok {
		amount = int64(a)
	}
	entry := domain.LedgerEntry{
		Type:          "webhook." + eventType,
		Ref:           paymentID,
		Amount:        amount,
		Currency:      payment.Currency,
		MerchantID:    payment.MerchantID,
		Provider:      provider,
		CorrelationID: correlation.FromContext(ctx),
		Metadata:      data,
	}
	if _, err := s.ledger.WriteEntry(ctx, entry); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
