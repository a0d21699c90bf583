package ports

import "context"

// AuthorizeCard carries the card material forwarded to a provider.
type AuthorizeCard struct {
	PaymentID  string
	Amount     int64
	Currency   string
	PAN        string
	Expiry     string
	MerchantID string
}

// AuthorizeResult is the normalized outcome of a provider authorize
// call. Success=false with a DeclineReason is a business decline, not a
// transport failure.
type AuthorizeResult struct {
	Success       bool
	ProviderRef   string
	DeclineReason string
	ProviderID    string
}

// CaptureResult is the normalized outcome of a provider capture call.
type CaptureResult struct {
	Success     bool
	ProviderRef string
	ProviderID  string
}

// RefundResult is the normalized outcome of a provider refund call.
type RefundResult struct {
	Success    bool
	RefundRef  string
	ProviderID string
}

// ProviderClient talks to a payment provider through the circuit
// breaker.
type ProviderClient interface {
	AuthorizeCard(ctx context.Context, providerID string, in AuthorizeCard) (AuthorizeResult, error)
	Capture(ctx context.Context, providerID, paymentID, providerRef string, amount int64) (CaptureResult, error)
	Refund(ctx context.Context, providerID, paymentID, providerRef string, amount int64) (RefundResult, error)
}

// VaultClient is the gateway-side view of the tokenization vault.
type VaultClient interface {
	Tokenize(ctx context.Context, pan, expiry, requester string) (token string, err error)
	ChargeToken(ctx context.Context, token, requester string) (pan, expiry string, err error)
}
