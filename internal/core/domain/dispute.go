package domain

import "time"

// DisputeState is the lifecycle state of a dispute.
type DisputeState string

const (
	DisputeOpened      DisputeState = "opened"
	DisputeUnderReview DisputeState = "under_review"
	DisputeWon         DisputeState = "won"
	DisputeLost        DisputeState = "lost"
)

// Dispute is a cardholder chargeback claim against a payment.
type Dispute struct {
	ID            string       `json:"id"`
	PaymentID     string       `json:"payment_id"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency,omitempty"`
	State         DisputeState `json:"state"`
	Reason        string       `json:"reason"`
	Evidence      string       `json:"evidence,omitempty"`
	MerchantID    string       `json:"merchant_id"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
