// Package ports declares the interfaces that decouple HTTP handlers,
// services, and background jobs from each other.
package ports

import (
	"context"
	"encoding/json"

	"payrail/internal/core/domain"
)

// OpResponse is the serialized outcome of a mutating operation. The
// body is stored by the idempotency layer and replayed byte-for-byte on
// retries.
type OpResponse struct {
	Status int
	Body   json.RawMessage
}

// NewOpResponse marshals v into an OpResponse with the given status.
func NewOpResponse(status int, v any) (OpResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return OpResponse{}, err
	}
	return OpResponse{Status: status, Body: body}, nil
}

// CreatePaymentInput carries the validated fields of a create request.
type CreatePaymentInput struct {
	Amount        int64
	Currency      string
	MerchantID    string
	CustomerEmail string
	Description   string
	Country       string
	Provider      string
	Metadata      map[string]any
}

// AuthorizeInput carries card material for an authorize call. Either
// PAN+Expiry or Token is set, never both.
type AuthorizeInput struct {
	PAN    string
	Expiry string
	Token  string
}

// PaymentListFilter narrows GET /payment-intents results.
type PaymentListFilter struct {
	State      string
	MerchantID string
	Limit      int
	Offset     int
}

// RefundListFilter narrows GET /refunds results.
type RefundListFilter struct {
	State     string
	PaymentID string
	Limit     int
	Offset    int
}

// DisputeListFilter narrows GET /disputes results.
type DisputeListFilter struct {
	State     string
	PaymentID string
	Limit     int
	Offset    int
}

// RefundRequestInput carries the validated fields of a refund request.
type RefundRequestInput struct {
	PaymentID   string
	Amount      int64
	Reason      string
	RequestedBy string
}

// DisputeOpenInput carries the validated fields of a dispute filing.
type DisputeOpenInput struct {
	PaymentID  string
	Amount     int64
	Reason     string
	MerchantID string
}

// PaymentService orchestrates the payment lifecycle.
type PaymentService interface {
	Create(ctx context.Context, idemKey string, in CreatePaymentInput) (OpResponse, error)
	Authorize(ctx context.Context, idemKey, paymentID, merchantID string, in AuthorizeInput) (OpResponse, error)
	Capture(ctx context.Context, idemKey, paymentID, merchantID string) (OpResponse, error)
	Cancel(ctx context.Context, idemKey, paymentID, merchantID string) (OpResponse, error)
	Get(ctx context.Context, paymentID string) (*domain.PaymentIntent, []domain.LedgerEntry, error)
	List(ctx context.Context, filter PaymentListFilter) (items []*domain.PaymentIntent, total int, err error)
}

// RefundService implements the maker-checker refund flow.
type RefundService interface {
	Request(ctx context.Context, idemKey string, in RefundRequestInput) (OpResponse, error)
	Approve(ctx context.Context, idemKey, refundID, approver, role string) (OpResponse, error)
	Reject(ctx context.Context, idemKey, refundID, rejectedBy, reason string) (OpResponse, error)
	Get(ctx context.Context, refundID string) (*domain.Refund, []domain.LedgerEntry, error)
	List(ctx context.Context, filter RefundListFilter) (items []*domain.Refund, total int, err error)
}

// DisputeService manages chargeback disputes.
type DisputeService interface {
	Open(ctx context.Context, idemKey string, in DisputeOpenInput) (OpResponse, error)
	SubmitEvidence(ctx context.Context, idemKey, disputeID, evidence string) (OpResponse, error)
	Resolve(ctx context.Context, idemKey, disputeID, outcome string) (OpResponse, error)
	Get(ctx context.Context, disputeID string) (*domain.Dispute, []domain.LedgerEntry, error)
	List(ctx context.Context, filter DisputeListFilter) (items []*domain.Dispute, total int, err error)
}

// WebhookIngress verifies, deduplicates, and applies provider webhooks.
type WebhookIngress interface {
	Handle(ctx context.Context, body []byte, signature string) (map[string]any, error)
}
