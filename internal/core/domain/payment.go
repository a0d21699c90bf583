package domain

import "time"

// PaymentState is the lifecycle state of a payment intent.
type PaymentState string

const (
	PaymentCreated    PaymentState = "created"
	PaymentAuthorized PaymentState = "authorized"
	PaymentCaptured   PaymentState = "captured"
	PaymentSettled    PaymentState = "settled"
	PaymentDeclined   PaymentState = "declined"
	PaymentReversed   PaymentState = "reversed"
	PaymentChargeback PaymentState = "chargeback"
)

// PaymentIntent is the snapshot view of a payment. The ledger is the
// source of truth; this struct is the derived view written after every
// ledger append.
type PaymentIntent struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"` // minor units
	Currency       string         `json:"currency"`
	State          PaymentState   `json:"state"`
	MerchantID     string         `json:"merchant_id"`
	CustomerEmail  string         `json:"customer_email,omitempty"`
	Description    string         `json:"description,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	Token          string         `json:"token,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	ProviderRef    string         `json:"provider_ref,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Metadata       map[string]any `json:"metadata"`
}

// IsTerminal reports whether no further transitions are allowed.
func (p *PaymentIntent) IsTerminal() bool {
	switch p.State {
	case PaymentSettled, PaymentDeclined, PaymentReversed, PaymentChargeback:
		return true
	}
	return false
}

// Refundable reports whether a refund may be opened against this payment.
func (p *PaymentIntent) Refundable() bool {
	return p.State == PaymentCaptured || p.State == PaymentSettled
}
