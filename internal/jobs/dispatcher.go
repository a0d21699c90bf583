// Package jobs holds the background loops that run alongside the
// request servers: the outbox dispatcher, the settlement generator,
// and the reconciliation job. Loop errors are logged and the loop
// resumes at the next tick.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/internal/service"

	"github.com/rs/zerolog"
)

const (
	dispatchMaxRetries = 3
	pathOutboxEvents   = "outbox/events.jsonl"
	pathProcessed      = "outbox/processed_events.json"
	pathDLQ            = "outbox/dlq.jsonl"
)

var dispatchBackoff = []time.Duration{1 * time.Second, 3 * time.Second, 10 * time.Second}

// deliveryRecord marks an outbox event as handled, either delivered or
// dead-lettered.
type deliveryRecord struct {
	ProcessedAt time.Time `json:"processed_at"`
	Status      string    `json:"status"`
}

// Dispatcher drains the outbox stream and delivers each pending event
// as a signed webhook, with retries and a dead-letter queue.
type Dispatcher struct {
	store       *filestore.Store
	secret      string
	callbackURL string
	client      *http.Client
	log         zerolog.Logger
	sleep       func(context.Context, time.Duration)
}

func NewDispatcher(store *filestore.Store, secret, callbackURL string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		secret:      secret,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run ticks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	d.log.Info().Dur("interval", interval).Msg("outbox dispatcher started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.ProcessPending(ctx); err != nil {
				d.log.Error().Err(err).Msg("outbox dispatch tick failed")
			}
		}
	}
}

// ProcessPending delivers every outbox event not yet in the processed
// set. Exhausted events are appended to the DLQ exactly once.
func (d *Dispatcher) ProcessPending(ctx context.Context) error {
	var events []domain.OutboxEvent
	err := d.store.ReadJSONL(pathOutboxEvents, func(line json.RawMessage) error {
		var e domain.OutboxEvent
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	processed := map[string]deliveryRecord{}
	if err := d.store.ReadJSON(pathProcessed, &processed); err != nil && err != filestore.ErrNotFound {
		return err
	}

	var pending []domain.OutboxEvent
	for _, e := range events {
		if _, done := processed[e.EventID]; !done {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	d.log.Info().Int("count", len(pending)).Msg("processing outbox events")

	for _, event := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status := "delivered"
		if !d.dispatch(ctx, event) {
			dlq := map[string]any{
				"event_id":       event.EventID,
				"type":           event.Type,
				"payload":        event.Payload,
				"correlation_id": event.CorrelationID,
				"created_at":     event.CreatedAt,
				"dlq_reason":     "max_retries_exceeded",
				"dlq_at":         time.Now().UTC(),
			}
			if err := d.store.AppendJSONL(pathDLQ, dlq); err != nil {
				return err
			}
			status = "dlq"
			d.log.Warn().Str("event_id", event.EventID).Msg("outbox event moved to DLQ")
		} else {
			d.log.Info().Str("event_id", event.EventID).Msg("outbox event delivered")
		}

		processed = map[string]deliveryRecord{}
		if err := d.store.Update(pathProcessed, &processed, func() error {
			processed[event.EventID] = deliveryRecord{ProcessedAt: time.Now().UTC(), Status: status}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// dispatch posts one signed webhook, retrying with backoff. Returns
// true on a 2xx/3xx response.
func (d *Dispatcher) dispatch(ctx context.Context, event domain.OutboxEvent) bool {
	provider, _ := event.Payload["provider"].(string)
	body, err := json.Marshal(map[string]any{
		"id":         event.EventID,
		"type":       event.Type,
		"provider":   provider,
		"data":       event.Payload,
		"created_at": event.CreatedAt,
	})
	if err != nil {
		d.log.Error().Err(err).Str("event_id", event.EventID).Msg("outbox payload encode failed")
		return false
	}
	signature := service.SignWebhook(d.secret, body)

	for attempt := 0; attempt < dispatchMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.callbackURL, bytes.NewReader(body))
		if err != nil {
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", signature)
		req.Header.Set("X-Correlation-Id", event.CorrelationID)

		resp, err := d.client.Do(req)
		if err == nil {
			code := resp.StatusCode
			resp.Body.Close()
			if code < 400 {
				return true
			}
			d.log.Warn().
				Int("status", code).
				Int("attempt", attempt+1).
				Str("event_id", event.EventID).
				Msg("webhook delivery rejected")
		} else {
			d.log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.EventID).
				Msg("webhook delivery failed")
		}

		if attempt < dispatchMaxRetries-1 {
			d.sleep(ctx, dispatchBackoff[attempt])
			if ctx.Err() != nil {
				return false
			}
		}
	}
	return false
}
