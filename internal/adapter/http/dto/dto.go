// Package dto defines the JSON request bodies accepted by the HTTP
// surfaces.
package dto

// CreatePaymentRequest is the body of POST /payment-intents.
type CreatePaymentRequest struct {
	Amount        int64          `json:"amount" binding:"required,gt=0"`
	Currency      string         `json:"currency" binding:"required,len=3"`
	CustomerEmail string         `json:"customer_email"`
	Description   string         `json:"description"`
	Country       string         `json:"country"`
	Provider      string         `json:"provider"`
	Metadata      map[string]any `json:"metadata"`
}

// AuthorizePaymentRequest carries either pan+expiry or a vault token.
type AuthorizePaymentRequest struct {
	PAN    string `json:"pan"`
	Expiry string `json:"expiry"`
	Token  string `json:"token"`
}

// CreateRefundRequest is the body of POST /refunds.
type CreateRefundRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reason    string `json:"reason"`
}

// RejectRefundRequest is the optional body of POST /refunds/{id}/reject.
type RejectRefundRequest struct {
	Reason string `json:"reason"`
}

// CreateDisputeRequest is the body of POST /disputes.
type CreateDisputeRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reason    string `json:"reason" binding:"required"`
}

// SubmitEvidenceRequest is the body of POST /disputes/{id}/submit-evidence.
type SubmitEvidenceRequest struct {
	Evidence string `json:"evidence" binding:"required"`
}

// ResolveDisputeRequest is the body of POST /disputes/{id}/resolve.
type ResolveDisputeRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

// TokenizeRequest is the body of the vault's POST /tokenize.
type TokenizeRequest struct {
	PAN            string `json:"pan" binding:"required"`
	Expiry         string `json:"expiry" binding:"required"`
	CardholderName string `json:"cardholder_name"`
	Requester      string `json:"requester"`
	Purpose        string `json:"purpose"`
}

// TokenRequest is the body of the vault's POST /detokenize and
// POST /charge-token.
type TokenRequest struct {
	Token     string `json:"token" binding:"required"`
	Requester string `json:"requester"`
	Purpose   string `json:"purpose"`
}

// InjectFailureRequest tunes a simulated provider's fault profile.
// Nil fields keep their current values.
type InjectFailureRequest struct {
	TimeoutRate            *float64 `json:"timeout_rate"`
	DeclineRate            *float64 `json:"decline_rate"`
	ErrorRate              *float64 `json:"error_rate"`
	DuplicateWebhookRate   *float64 `json:"duplicate_webhook_rate"`
	SettlementMismatchRate *float64 `json:"settlement_mismatch_rate"`
	LatencyMsMin           *int     `json:"latency_ms_min"`
	LatencyMsMax           *int     `json:"latency_ms_max"`
}
