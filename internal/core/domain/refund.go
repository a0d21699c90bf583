package domain

import "time"

// RefundState is the lifecycle state of a refund. Refunds are created
// directly in pending_approval; the created state exists in the table
// for completeness but is never observed.
type RefundState string

const (
	RefundCreated         RefundState = "created"
	RefundPendingApproval RefundState = "pending_approval"
	RefundApproved        RefundState = "approved"
	RefundSucceeded       RefundState = "succeeded"
	RefundFailed          RefundState = "failed"
)

// Refund is a maker-checker controlled reversal of a captured payment.
type Refund struct {
	ID            string         `json:"id"`
	PaymentID     string         `json:"payment_id"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	State         RefundState    `json:"state"`
	Reason        string         `json:"reason,omitempty"`
	RequestedBy   string         `json:"requested_by,omitempty"`
	ApprovedBy    string         `json:"approved_by,omitempty"`
	MerchantID    string         `json:"merchant_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
