package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/ports"
	"payrail/internal/service"
	"payrail/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gatewaySecret = "whsec_test_secret"

// stubProvider approves every call with deterministic refs.
type stubProvider struct{}

func (stubProvider) AuthorizeCard(ctx context.Context, providerID string, in ports.AuthorizeCard) (ports.AuthorizeResult, error) {
	return ports.AuthorizeResult{Success: true, ProviderRef: "ch_stub", ProviderID: providerID}, nil
}

func (stubProvider) Capture(ctx context.Context, providerID, paymentID, providerRef string, amount int64) (ports.CaptureResult, error) {
	return ports.CaptureResult{Success: true, ProviderRef: providerRef, ProviderID: providerID}, nil
}

func (stubProvider) Refund(ctx context.Context, providerID, paymentID, providerRef string, amount int64) (ports.RefundResult, error) {
	return ports.RefundResult{Success: true, RefundRef: "ref_stub", ProviderID: providerID}, nil
}

// stubVault maps a single well-known token.
type stubVault struct{}

func (stubVault) Tokenize(ctx context.Context, pan, expiry, requester string) (string, error) {
	return "tok_stub", nil
}

func (stubVault) ChargeToken(ctx context.Context, token, requester string) (string, string, error) {
	if token != "tok_stub" {
		return "", "", apperror.NotFound("Token", token)
	}
	return "4242424242424242", "12/28", nil
}

func newTestGateway(t *testing.T) (*gin.Engine, *filestore.Store) {
	t.Helper()
	store, err := filestore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	log := zerolog.Nop()

	ledger := service.NewLedgerService(store, log)
	idem := service.NewIdempotencyService(store, log)
	breaker := service.NewCircuitBreaker(store, service.BreakerConfig{}, log)
	routing := service.NewRoutingEngine(breaker, "providerA", "providerB", log)

	deps := GatewayDeps{
		Store:    store,
		Payments: service.NewPaymentService(store, ledger, idem, routing, stubProvider{}, stubVault{}, log),
		Refunds:  service.NewRefundService(store, ledger, idem, stubProvider{}, log),
		Disputes: service.NewDisputeService(store, ledger, idem, log),
		Webhooks: service.NewWebhookService(store, ledger, gatewaySecret, log),
		Audit:    service.NewAuditService(store, ledger, breaker, []string{"providerA", "providerB"}, log),
		Log:      log,
	}
	return NewGatewayRouter(deps), store
}

type reqOpts struct {
	merchant string
	idemKey  string
	headers  map[string]string
}

func do(t *testing.T, r *gin.Engine, method, path string, body any, opts reqOpts) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if opts.merchant != "" {
		req.Header.Set("X-Merchant-Id", opts.merchant)
	}
	if opts.idemKey != "" {
		req.Header.Set("Idempotency-Key", opts.idemKey)
	}
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGatewayHealth(t *testing.T) {
	r, _ := newTestGateway(t)
	w := do(t, r, http.MethodGet, "/health", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "api-gateway", body["service"])
	assert.NotEmpty(t, w.Header().Get("X-Correlation-Id"))
}

func TestGatewayRequiresMerchantHeader(t *testing.T) {
	r, _ := newTestGateway(t)

	w := do(t, r, http.MethodPost, "/payment-intents",
		map[string]any{"amount": 1000, "currency": "USD"},
		reqOpts{idemKey: "k1"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "X-Merchant-Id header required", decode(t, w)["detail"])

	// Reads are exempt.
	w = do(t, r, http.MethodGet, "/payment-intents", nil, reqOpts{})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGatewayRequiresIdempotencyKey(t *testing.T) {
	r, _ := newTestGateway(t)

	w := do(t, r, http.MethodPost, "/payment-intents",
		map[string]any{"amount": 1000, "currency": "USD"},
		reqOpts{merchant: "m1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Idempotency-Key header required", decode(t, w)["detail"])
}

func TestGatewayValidatesCreateBody(t *testing.T) {
	r, _ := newTestGateway(t)

	for _, body := range []map[string]any{
		{"currency": "USD"},
		{"amount": 0, "currency": "USD"},
		{"amount": -5, "currency": "USD"},
		{"amount": 1000},
		{"amount": 1000, "currency": "USDX"},
	} {
		w := do(t, r, http.MethodPost, "/payment-intents", body, reqOpts{merchant: "m1", idemKey: "k1"})
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
	}
}

func TestGatewayPaymentLifecycle(t *testing.T) {
	r, _ := newTestGateway(t)

	w := do(t, r, http.MethodPost, "/payment-intents",
		map[string]any{"amount": 2500, "currency": "USD", "customer_email": "a@b.co"},
		reqOpts{merchant: "m1", idemKey: "create-1"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode(t, w)
	paymentID := created["id"].(string)
	assert.Equal(t, "created", created["state"])

	w = do(t, r, http.MethodPost, "/payment-intents/"+paymentID+"/authorize",
		map[string]any{"pan": "4242424242424242", "expiry": "12/28"},
		reqOpts{merchant: "m1", idemKey: "auth-1"})
	require.Equal(t, http.StatusOK, w.Code)
	authorized := decode(t, w)
	assert.Equal(t, "authorized", authorized["state"])
	assert.Equal(t, "ch_stub", authorized["provider_ref"])

	w = do(t, r, http.MethodPost, "/payment-intents/"+paymentID+"/capture", nil,
		reqOpts{merchant: "m1", idemKey: "cap-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "captured", decode(t, w)["state"])

	// GET includes the ledger history.
	w = do(t, r, http.MethodGet, "/payment-intents/"+paymentID, nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "captured", got["state"])
	entries := got["ledger_entries"].([]any)
	assert.Len(t, entries, 3)
}

func TestGatewayIdempotentReplayOverHTTP(t *testing.T) {
	r, _ := newTestGateway(t)
	body := map[string]any{"amount": 2500, "currency": "USD"}

	w1 := do(t, r, http.MethodPost, "/payment-intents", body, reqOpts{merchant: "m1", idemKey: "same"})
	require.Equal(t, http.StatusCreated, w1.Code)
	w2 := do(t, r, http.MethodPost, "/payment-intents", body, reqOpts{merchant: "m1", idemKey: "same"})
	require.Equal(t, http.StatusCreated, w2.Code)
	assert.Equal(t, w1.Body.String(), w2.Body.String(), "replay is byte identical")

	// Same key, different body.
	w3 := do(t, r, http.MethodPost, "/payment-intents",
		map[string]any{"amount": 100, "currency": "USD"},
		reqOpts{merchant: "m1", idemKey: "same"})
	require.Equal(t, http.StatusUnprocessableEntity, w3.Code)
	assert.Contains(t, decode(t, w3)["detail"], "already used")
}

func TestGatewayErrorEnvelope(t *testing.T) {
	r, _ := newTestGateway(t)

	w := do(t, r, http.MethodGet, "/payment-intents/pi_missing", nil, reqOpts{})
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	require.Len(t, body, 1, "errors carry only the detail field")
	assert.Equal(t, "Payment pi_missing not found", body["detail"])
}

func TestGatewayListEnvelope(t *testing.T) {
	r, _ := newTestGateway(t)

	for _, key := range []string{"k1", "k2", "k3"} {
		w := do(t, r, http.MethodPost, "/payment-intents",
			map[string]any{"amount": 1000, "currency": "USD", "description": key},
			reqOpts{merchant: "m1", idemKey: key})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, r, http.MethodGet, "/payment-intents?limit=2", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["limit"])
	assert.Equal(t, float64(0), body["offset"])
	assert.Len(t, body["items"].([]any), 2)
}

func TestGatewayRefundFlowOverHTTP(t *testing.T) {
	r, _ := newTestGateway(t)

	w := do(t, r, http.MethodPost, "/payment-intents",
		map[string]any{"amount": 5000, "currency": "USD"},
		reqOpts{merchant: "alice", idemKey: "c1"})
	paymentID := decode(t, w)["id"].(string)
	do(t, r, http.MethodPost, "/payment-intents/"+paymentID+"/authorize",
		map[string]any{"pan": "4242424242424242", "expiry": "12/28"},
		reqOpts{merchant: "alice", idemKey: "a1"})
	do(t, r, http.MethodPost, "/payment-intents/"+paymentID+"/capture", nil,
		reqOpts{merchant: "alice", idemKey: "cap1"})

	w = do(t, r, http.MethodPost, "/refunds",
		map[string]any{"payment_id": paymentID, "amount": 2000, "reason": "goodwill"},
		reqOpts{merchant: "alice", idemKey: "r1"})
	require.Equal(t, http.StatusCreated, w.Code)
	refund := decode(t, w)
	refundID := refund["id"].(string)
	assert.Equal(t, "pending_approval", refund["state"])

	// Self approval by the requesting merchant is forbidden.
	w = do(t, r, http.MethodPost, "/refunds/"+refundID+"/approve", nil,
		reqOpts{merchant: "alice", idemKey: "ap1"})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "maker-checker")

	// A different merchant approves.
	w = do(t, r, http.MethodPost, "/refunds/"+refundID+"/approve", nil,
		reqOpts{merchant: "bob", idemKey: "ap2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "succeeded", decode(t, w)["state"])

	// The detail view carries the refund's ledger history.
	w = do(t, r, http.MethodGet, "/refunds/"+refundID, nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "bob", got["approved_by"])
	require.Len(t, got["ledger_entries"].([]any), 2)

	// The list supports state and payment filters with a paged envelope.
	w = do(t, r, http.MethodGet, "/refunds?state=succeeded&payment_id="+paymentID, nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	listBody := decode(t, w)
	assert.Equal(t, float64(1), listBody["total"])
	assert.Equal(t, float64(50), listBody["limit"])
	assert.Equal(t, float64(0), listBody["offset"])
	require.Len(t, listBody["items"].([]any), 1)
}

func TestGatewayAdminRoleHeaderBypassesMakerChecker(t *testing.T) {
	r, _ := newTestGateway(t)

	w := do(t, r, http.MethodPost, "/payment-intents",
		map[string]any{"amount": 5000, "currency": "USD"},
		reqOpts{merchant: "alice", idemKey: "c1"})
	paymentID := decode(t, w)["id"].(string)
	do(t, r, http.MethodPost, "/payment-intents/"+paymentID+"/authorize",
		map[string]any{"pan": "4242424242424242", "expiry": "12/28"},
		reqOpts{merchant: "alice", idemKey: "a1"})
	do(t, r, http.MethodPost, "/payment-intents/"+paymentID+"/capture", nil,
		reqOpts{merchant: "alice", idemKey: "cap1"})
	w = do(t, r, http.MethodPost, "/refunds",
		map[string]any{"payment_id": paymentID, "amount": 1000},
		reqOpts{merchant: "alice", idemKey: "r1"})
	refundID := decode(t, w)["id"].(string)

	w = do(t, r, http.MethodPost, "/refunds/"+refundID+"/approve", nil,
		reqOpts{merchant: "alice", idemKey: "ap1", headers: map[string]string{"X-Role": "admin"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "succeeded", decode(t, w)["state"])
}

func TestGatewayWebhookEndpoint(t *testing.T) {
	r, _ := newTestGateway(t)

	payload, err := json.Marshal(map[string]any{
		"id":   "whevt_1",
		"type": "payment.captured",
		"data": map[string]any{"payment_id": "pi_ghost"},
	})
	require.NoError(t, err)

	// Webhooks bypass merchant auth but require a valid signature.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", service.SignWebhook(gatewaySecret, payload))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", decode(t, w)["status"])
}

func TestGatewayAuditEndpoints(t *testing.T) {
	r, _ := newTestGateway(t)

	w := do(t, r, http.MethodPost, "/payment-intents",
		map[string]any{"amount": 1000, "currency": "USD"},
		reqOpts{merchant: "m1", idemKey: "k1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodGet, "/audit/payments", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total"])

	w = do(t, r, http.MethodGet, "/audit/export?entity_type=payment", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "payment", body["entity_type"])
	require.Contains(t, body, "exported_at")

	w = do(t, r, http.MethodGet, "/providers/health", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	providers := decode(t, w)["providers"].(map[string]any)
	assert.Contains(t, providers, "providerA")
	assert.Contains(t, providers, "providerB")

	listBody := decode(t, do(t, r, http.MethodGet, "/payment-intents", nil, reqOpts{}))
	paymentID := listBody["items"].([]any)[0].(map[string]any)["id"].(string)
	w = do(t, r, http.MethodGet, "/ledger/"+paymentID, nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, paymentID, body["ref"])
	assert.Equal(t, float64(1), body["total"])

	w = do(t, r, http.MethodGet, "/audit/reconciliation", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodGet, "/audit/settlements", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGatewayMetricsRecorded(t *testing.T) {
	r, store := newTestGateway(t)

	do(t, r, http.MethodGet, "/health", nil, reqOpts{})
	require.True(t, store.Exists("metrics/service_metrics.jsonl"))

	w := do(t, r, http.MethodGet, "/metrics", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	lines := body["metrics"].([]any)
	require.NotEmpty(t, lines)
	first := lines[0].(map[string]any)
	assert.Equal(t, "GET", first["method"])
	require.Contains(t, first, "duration_ms")
	require.Contains(t, first, "status_code")
}

func TestVaultRouterEndpoints(t *testing.T) {
	store, err := filestore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	log := zerolog.Nop()
	vault := service.NewVaultService(store, service.NewVaultCrypto(store), log)
	r := NewVaultRouter(store, vault, log)

	w := do(t, r, http.MethodGet, "/health", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "vault-service", decode(t, w)["service"])

	w = do(t, r, http.MethodPost, "/tokenize",
		map[string]any{"pan": "4242424242424242", "expiry": "12/28"}, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	card := decode(t, w)
	token := card["token"].(string)
	assert.Equal(t, "4242", card["last_four"])
	assert.Equal(t, "visa", card["card_brand"])

	w = do(t, r, http.MethodPost, "/detokenize", map[string]any{"token": token}, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	meta := decode(t, w)
	assert.Equal(t, "12/28", meta["expiry"])
	assert.NotContains(t, w.Body.String(), "4242424242424242")

	w = do(t, r, http.MethodPost, "/charge-token", map[string]any{"token": token}, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4242424242424242", decode(t, w)["pan"])

	w = do(t, r, http.MethodPost, "/rotate-keys", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	rotated := decode(t, w)
	assert.Equal(t, "Key rotated successfully", rotated["message"])
	assert.Equal(t, float64(2), rotated["total_keys"])

	w = do(t, r, http.MethodPost, "/charge-token", map[string]any{"token": "tok_missing"}, reqOpts{})
	require.Equal(t, http.StatusNotFound, w.Code)

	// Every successful vault operation left an access-log line; the
	// failed charge did not.
	w = do(t, r, http.MethodGet, "/access-log", nil, reqOpts{})
	require.Equal(t, http.StatusOK, w.Code)
	logBody := decode(t, w)
	assert.Equal(t, float64(4), logBody["total"])
	entries := logBody["entries"].([]any)
	newest := entries[0].(map[string]any)
	assert.Equal(t, "rotate-keys", newest["action"])
}
