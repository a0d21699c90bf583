// Package sim implements the fault-injecting provider simulator used
// for end-to-end testing. Providers accept authorize, capture, and
// refund RPCs, emit signed webhooks back to the gateway, and expose
// admin knobs to inject timeouts, declines, errors, duplicate
// webhooks, and settlement mismatches.
package sim

// FailureConfig tunes a simulated provider's fault profile. Rates are
// probabilities in [0, 1].
type FailureConfig struct {
	TimeoutRate            float64 `json:"timeout_rate"`
	DeclineRate            float64 `json:"decline_rate"`
	ErrorRate              float64 `json:"error_rate"`
	DuplicateWebhookRate   float64 `json:"duplicate_webhook_rate"`
	SettlementMismatchRate float64 `json:"settlement_mismatch_rate"`
	LatencyMsMin           int     `json:"latency_ms_min"`
	LatencyMsMax           int     `json:"latency_ms_max"`
}

// DefaultFailureConfig is the profile for providers without an entry
// in ProviderProfiles.
func DefaultFailureConfig() FailureConfig {
	return FailureConfig{
		DeclineRate:  0.05,
		LatencyMsMin: 100,
		LatencyMsMax: 300,
	}
}

// ProviderProfiles holds the default fault profile per provider.
var ProviderProfiles = map[string]FailureConfig{
	"providerA": {
		DeclineRate:  0.05,
		LatencyMsMin: 100,
		LatencyMsMax: 300,
	},
	"providerB": {
		DeclineRate:  0.10,
		LatencyMsMin: 200,
		LatencyMsMax: 500,
	},
}

// DeclineReasons is each provider's decline vocabulary.
var DeclineReasons = map[string][]string{
	"providerA": {"insufficient_funds", "card_declined", "expired_card", "processing_error"},
	"providerB": {"DECLINED", "FRAUD", "EXPIRED", "DO_NOT_HONOR"},
}
