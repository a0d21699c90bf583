package service

// Relative paths under the data directory shared by the gateway, the
// vault, and the background jobs.
const (
	pathLedgerPayments = "ledger/payments.jsonl"
	pathLedgerRefunds  = "ledger/refunds.jsonl"
	pathLedgerDisputes = "ledger/disputes.jsonl"

	pathOutboxEvents      = "outbox/events.jsonl"
	pathProcessedWebhooks = "outbox/processed_webhooks.json"

	pathPaymentsStore   = "idempotency/payments_store.json"
	pathRefundsStore    = "idempotency/refunds_store.json"
	pathDisputesStore   = "idempotency/disputes_store.json"
	pathIdempotencyKeys = "idempotency/idempotency_keys.json"

	pathVaultTokens    = "vault/tokens.json"
	pathVaultCards     = "vault/encrypted_cards.json"
	pathVaultKeys      = "vault/keys.json"
	pathVaultAccessLog = "vault/access_log.jsonl"

	pathMetrics = "metrics/service_metrics.jsonl"
)

func breakerStatePath(providerID string) string {
	return "providers/" + providerID + "_state.json"
}
