package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payrail/internal/adapter/http/handler"
	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/internal/core/ports"
	"payrail/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simSecret = "whsec_sim_test"

type simFixture struct {
	router   *gin.Engine
	store    *filestore.Store
	webhooks chan []byte
}

func newSimFixture(t *testing.T) *simFixture {
	t.Helper()
	store, err := filestore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	webhooks := make(chan []byte, 8)
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !service.VerifyWebhookSignature(simSecret, body, r.Header.Get("X-Webhook-Signature")) {
			t.Error("webhook arrived with a bad signature")
		}
		webhooks <- body
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(callback.Close)

	srv := NewServer(store, simSecret, callback.URL, 42, zerolog.Nop())
	return &simFixture{router: srv.Router(), store: store, webhooks: webhooks}
}

func (f *simFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *simFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// quiet pins a provider to a zero-fault, zero-latency profile so test
// outcomes do not depend on the RNG.
func (f *simFixture) quiet(t *testing.T, providerID string, overrides map[string]any) {
	t.Helper()
	body := map[string]any{
		"timeout_rate":             0.0,
		"decline_rate":             0.0,
		"error_rate":               0.0,
		"duplicate_webhook_rate":   0.0,
		"settlement_mismatch_rate": 0.0,
		"latency_ms_min":           0,
		"latency_ms_max":           0,
	}
	for k, v := range overrides {
		body[k] = v
	}
	w := f.post(t, "/providers/"+providerID+"/inject-failure", body)
	require.Equal(t, http.StatusOK, w.Code)
}

func (f *simFixture) waitWebhook(t *testing.T) map[string]any {
	t.Helper()
	select {
	case body := <-f.webhooks:
		var envelope map[string]any
		require.NoError(t, json.Unmarshal(body, &envelope))
		return envelope
	case <-time.After(5 * time.Second):
		t.Fatal("no webhook arrived")
		return nil
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSimHealth(t *testing.T) {
	f := newSimFixture(t)
	w := f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "provider-sim", decodeBody(t, w)["service"])
}

func TestSimAuthorizeSuccess(t *testing.T) {
	f := newSimFixture(t)
	f.quiet(t, "providerA", nil)

	w := f.post(t, "/providers/providerA/authorize", map[string]any{
		"payment_id": "pi_1", "amount": 1000, "currency": "USD",
		"pan": "4242424242424242", "expiry": "12/28", "merchant_id": "m1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "providerA", body["provider_id"])
	ref := body["provider_ref"].(string)
	assert.True(t, strings.HasPrefix(ref, "ch_"), "providerA refs use the ch_ prefix, got %s", ref)

	envelope := f.waitWebhook(t)
	assert.Equal(t, "payment.authorized", envelope["type"])
	assert.Equal(t, "providerA", envelope["provider"])
	data := envelope["data"].(map[string]any)
	assert.Equal(t, "pi_1", data["payment_id"])
	assert.Equal(t, ref, data["provider_ref"])
}

func TestSimProviderBRefPrefix(t *testing.T) {
	f := newSimFixture(t)
	f.quiet(t, "providerB", nil)

	w := f.post(t, "/providers/providerB/authorize", map[string]any{
		"payment_id": "pi_1", "amount": 1000, "currency": "EUR",
		"pan": "4242424242424242", "expiry": "12/28",
	})
	require.Equal(t, http.StatusOK, w.Code)
	ref := decodeBody(t, w)["provider_ref"].(string)
	assert.True(t, strings.HasPrefix(ref, "PSP_"), "providerB refs use the PSP_ prefix, got %s", ref)
	f.waitWebhook(t)
}

func TestSimForcedDecline(t *testing.T) {
	f := newSimFixture(t)
	f.quiet(t, "providerA", map[string]any{"decline_rate": 1.0})

	w := f.post(t, "/providers/providerA/authorize", map[string]any{
		"payment_id": "pi_1", "amount": 1000, "currency": "USD",
		"pan": "4242424242424242", "expiry": "12/28",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, DeclineReasons["providerA"], body["decline_reason"])

	envelope := f.waitWebhook(t)
	assert.Equal(t, "payment.declined", envelope["type"])
	data := envelope["data"].(map[string]any)
	assert.Equal(t, body["decline_reason"], data["decline_reason"])
}

func TestSimForcedError(t *testing.T) {
	f := newSimFixture(t)
	f.quiet(t, "providerA", map[string]any{"error_rate": 1.0})

	w := f.post(t, "/providers/providerA/authorize", map[string]any{
		"payment_id": "pi_1", "amount": 1000, "currency": "USD",
		"pan": "4242424242424242", "expiry": "12/28",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSimCaptureAndRefund(t *testing.T) {
	f := newSimFixture(t)
	f.quiet(t, "providerA", nil)

	w := f.post(t, "/providers/providerA/capture", map[string]any{
		"payment_id": "pi_1", "provider_ref": "ch_abc", "amount": 1000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["success"])
	assert.Equal(t, "payment.captured", f.waitWebhook(t)["type"])

	w = f.post(t, "/providers/providerA/refund", map[string]any{
		"payment_id": "pi_1", "provider_ref": "ch_abc", "amount": 500,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.True(t, strings.HasPrefix(body["refund_ref"].(string), "ref_"))
	assert.Equal(t, "payment.refunded", f.waitWebhook(t)["type"])
}

func TestSimStateCounters(t *testing.T) {
	f := newSimFixture(t)
	f.quiet(t, "providerA", nil)

	for i := 0; i < 2; i++ {
		f.post(t, "/providers/providerA/authorize", map[string]any{
			"payment_id": "pi_1", "amount": 1000, "currency": "USD",
			"pan": "4242424242424242", "expiry": "12/28",
		})
		f.waitWebhook(t)
	}

	w := f.get(t, "/providers/providerA/state")
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeBody(t, w)
	assert.Equal(t, "providerA", st["provider_id"])
	assert.Equal(t, float64(2), st["total_requests"])
	assert.Equal(t, float64(2), st["total_successes"])
	assert.Equal(t, float64(0), st["total_failures"])
	require.Contains(t, st, "failure_config")
}

func TestSimInjectFailureMergesPartialUpdate(t *testing.T) {
	f := newSimFixture(t)
	f.quiet(t, "providerB", nil)

	// Only decline_rate is sent; the rest of the profile survives.
	w := f.post(t, "/providers/providerB/inject-failure", map[string]any{"decline_rate": 0.5})
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decodeBody(t, w)["config"].(map[string]any)
	assert.Equal(t, 0.5, cfg["decline_rate"])
	assert.Equal(t, float64(0), cfg["error_rate"])
	assert.Equal(t, float64(0), cfg["latency_ms_max"])
}

// Token-only authorization must round-trip the card expiry through the
// vault, or the provider rejects the request for missing card material.
func TestSimAuthorizeWithVaultToken(t *testing.T) {
	f := newSimFixture(t)
	f.quiet(t, "providerA", nil)
	simSrv := httptest.NewServer(f.router)
	t.Cleanup(simSrv.Close)

	log := zerolog.Nop()
	vault := service.NewVaultService(f.store, service.NewVaultCrypto(f.store), log)
	vaultSrv := httptest.NewServer(handler.NewVaultRouter(f.store, vault, log))
	t.Cleanup(vaultSrv.Close)

	ledger := service.NewLedgerService(f.store, log)
	idem := service.NewIdempotencyService(f.store, log)
	breaker := service.NewCircuitBreaker(f.store, service.BreakerConfig{
		FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, HalfOpenMaxCalls: 3,
	}, log)
	routing := service.NewRoutingEngine(breaker, "providerA", "providerB", log)
	providerClient := service.NewHTTPProviderClient(simSrv.URL, breaker, log)
	vaultClient := service.NewVaultHTTPClient(vaultSrv.URL, log)
	payments := service.NewPaymentService(f.store, ledger, idem, routing, providerClient, vaultClient, log)

	ctx := context.Background()
	token, err := vaultClient.Tokenize(ctx, "4111111111111111", "12/28", "api-gateway")
	require.NoError(t, err)

	resp, err := payments.Create(ctx, "create-1", ports.CreatePaymentInput{
		Amount: 1500, Currency: "USD", MerchantID: "m1",
	})
	require.NoError(t, err)
	var p domain.PaymentIntent
	require.NoError(t, json.Unmarshal(resp.Body, &p))

	resp, err = payments.Authorize(ctx, "auth-1", p.ID, "m1", ports.AuthorizeInput{Token: token})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.NoError(t, json.Unmarshal(resp.Body, &p))
	assert.Equal(t, domain.PaymentAuthorized, p.State)
	assert.Equal(t, "providerA", p.Provider)
	assert.True(t, strings.HasPrefix(p.ProviderRef, "ch_"))

	// A clean authorization leaves the breaker untouched.
	st, err := breaker.State("providerA")
	require.NoError(t, err)
	assert.Equal(t, domain.CircuitClosed, st.CircuitState)
	assert.Zero(t, st.FailureCount)

	f.waitWebhook(t)
}

func TestSimSettlementExport(t *testing.T) {
	f := newSimFixture(t)
	f.quiet(t, "providerA", nil)
	date := "2026-08-26"

	require.NoError(t, f.store.AppendJSONL("ledger/payments.jsonl", domain.LedgerEntry{
		Type: "payment.captured", Ref: "pi_1", Amount: 1000, Currency: "USD",
		Provider: "providerA", Timestamp: time.Now().UTC(),
		Metadata: map[string]any{"provider_ref": "ch_abc"},
	}))
	// Another provider's entry stays out of this provider's file.
	require.NoError(t, f.store.AppendJSONL("ledger/payments.jsonl", domain.LedgerEntry{
		Type: "payment.captured", Ref: "pi_2", Amount: 2500, Currency: "USD",
		Provider: "providerB", Timestamp: time.Now().UTC(),
	}))

	w := f.get(t, "/providers/providerA/settlement?date=" + date)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "settlement_"+date+".csv", body["file"])
	assert.Equal(t, float64(1), body["rows"])

	header, rows, err := f.store.ReadCSV("settlement/settlement_" + date + ".csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"payment_id", "provider_ref", "amount", "currency", "type", "status", "settled_at"}, header)
	require.Len(t, rows, 1)
	assert.Equal(t, "pi_1", rows[0][0])
	assert.Equal(t, "ch_abc", rows[0][1])
	assert.Equal(t, "1000", rows[0][2], "no mismatch injected at rate zero")
}
