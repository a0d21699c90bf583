package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

func newTestStore(t *testing.T) *filestore.Store {
	t.Helper()
	store, err := filestore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func newTestDispatcher(t *testing.T, store *filestore.Store, callbackURL string) *Dispatcher {
	t.Helper()
	d := NewDispatcher(store, testSecret, callbackURL, zerolog.Nop())
	d.sleep = func(context.Context, time.Duration) {}
	return d
}

func seedOutboxEvent(t *testing.T, store *filestore.Store, id, eventType string) {
	t.Helper()
	require.NoError(t, store.AppendJSONL("outbox/events.jsonl", domain.OutboxEvent{
		EventID:       id,
		Type:          eventType,
		Payload:       map[string]any{"id": "pi_1", "provider": "providerA"},
		CorrelationID: "corr_test",
		CreatedAt:     time.Now().UTC(),
	}))
}

func TestDispatcherDelivers(t *testing.T) {
	var bodies [][]byte
	var signatures []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		signatures = append(signatures, r.Header.Get("X-Webhook-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	seedOutboxEvent(t, store, "oevt_1", "payment.captured")
	d := newTestDispatcher(t, store, srv.URL)

	require.NoError(t, d.ProcessPending(context.Background()))
	require.Len(t, bodies, 1)

	// The delivered webhook is signed and carries the envelope fields.
	assert.True(t, service.VerifyWebhookSignature(testSecret, bodies[0], signatures[0]))
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &envelope))
	assert.Equal(t, "oevt_1", envelope["id"])
	assert.Equal(t, "payment.captured", envelope["type"])
	assert.Equal(t, "providerA", envelope["provider"])
	require.Contains(t, envelope, "data")
	require.Contains(t, envelope, "created_at")

	processed := map[string]deliveryRecord{}
	require.NoError(t, store.ReadJSON("outbox/processed_events.json", &processed))
	require.Contains(t, processed, "oevt_1")
	assert.Equal(t, "delivered", processed["oevt_1"].Status)
}

func TestDispatcherSkipsProcessed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	seedOutboxEvent(t, store, "oevt_1", "payment.captured")
	d := newTestDispatcher(t, store, srv.URL)

	require.NoError(t, d.ProcessPending(context.Background()))
	require.NoError(t, d.ProcessPending(context.Background()))
	assert.Equal(t, 1, calls, "a delivered event is never resent")
}

func TestDispatcherRetriesThenDLQ(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t)
	seedOutboxEvent(t, store, "oevt_bad", "payment.captured")
	d := newTestDispatcher(t, store, srv.URL)

	require.NoError(t, d.ProcessPending(context.Background()))
	assert.Equal(t, 3, calls, "three attempts before dead-lettering")

	var dlq []map[string]any
	require.NoError(t, store.ReadJSONL("outbox/dlq.jsonl", func(raw json.RawMessage) error {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		dlq = append(dlq, m)
		return nil
	}))
	require.Len(t, dlq, 1)
	assert.Equal(t, "oevt_bad", dlq[0]["event_id"])
	assert.Equal(t, "max_retries_exceeded", dlq[0]["dlq_reason"])
	require.Contains(t, dlq[0], "dlq_at")

	processed := map[string]deliveryRecord{}
	require.NoError(t, store.ReadJSON("outbox/processed_events.json", &processed))
	assert.Equal(t, "dlq", processed["oevt_bad"].Status)

	// A later pass neither retries nor re-letters the event.
	require.NoError(t, d.ProcessPending(context.Background()))
	assert.Equal(t, 3, calls)
	count := 0
	require.NoError(t, store.ReadJSONL("outbox/dlq.jsonl", func(json.RawMessage) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count, "exactly one DLQ line per exhausted event")
}

func TestDispatcherRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	seedOutboxEvent(t, store, "oevt_flaky", "payment.authorized")
	d := newTestDispatcher(t, store, srv.URL)

	require.NoError(t, d.ProcessPending(context.Background()))
	assert.Equal(t, 2, calls, "second attempt succeeded")

	processed := map[string]deliveryRecord{}
	require.NoError(t, store.ReadJSON("outbox/processed_events.json", &processed))
	assert.Equal(t, "delivered", processed["oevt_flaky"].Status)
	assert.False(t, store.Exists("outbox/dlq.jsonl"))
}

func TestDispatcherEmptyOutbox(t *testing.T) {
	store := newTestStore(t)
	d := newTestDispatcher(t, store, "http://localhost:0")
	require.NoError(t, d.ProcessPending(context.Background()))
	assert.False(t, store.Exists("outbox/processed_events.json"))
}
