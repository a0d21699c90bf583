package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"payrail/internal/core/ports"
	"payrail/pkg/apperror"
	"payrail/pkg/correlation"

	"github.com/rs/zerolog"
)

const providerTimeout = 10 * time.Second

// HTTPProviderClient issues authorize/capture/refund RPCs against the
// provider simulator, guarded by the circuit breaker. Every call
// outcome feeds the breaker: 2xx with success=true records a success;
// a business decline (success=false) records a failure but still
// returns the response; timeouts and transport errors record a failure
// and raise.
type HTTPProviderClient struct {
	baseURL string
	breaker *CircuitBreaker
	client  *http.Client
	log     zerolog.Logger
}

func NewHTTPProviderClient(baseURL string, breaker *CircuitBreaker, log zerolog.Logger) *HTTPProviderClient {
	return &HTTPProviderClient{
		baseURL: baseURL,
		breaker: breaker,
		client:  &http.Client{Timeout: providerTimeout},
		log:     log,
	}
}

func (c *HTTPProviderClient) post(ctx context.Context, providerID, action string, reqBody, respBody any) error {
	ok, err := c.breaker.CanExecute(providerID)
	if err != nil {
		return apperror.Internal(err)
	}
	if !ok {
		return apperror.ProviderUnavailable(providerID)
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return apperror.Internal(err)
	}
	url := fmt.Sprintf("%s/providers/%s/%s", c.baseURL, providerID, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperror.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", correlation.FromContext(ctx))

	resp, err := c.client.Do(req)
	if err != nil {
		if recErr := c.breaker.RecordFailure(providerID); recErr != nil {
			c.log.Error().Err(recErr).Str("provider", providerID).Msg("breaker record failed")
		}
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return apperror.ProviderTimeout(providerID)
		}
		return apperror.ProviderError(providerID, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if recErr := c.breaker.RecordFailure(providerID); recErr != nil {
			c.log.Error().Err(recErr).Str("provider", providerID).Msg("breaker record failed")
		}
		if resp.StatusCode == http.StatusGatewayTimeout {
			return apperror.ProviderTimeout(providerID)
		}
		return apperror.ProviderError(providerID, fmt.Sprintf("HTTP %d from %s", resp.StatusCode, action))
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		if recErr := c.breaker.RecordFailure(providerID); recErr != nil {
			c.log.Error().Err(recErr).Str("provider", providerID).Msg("breaker record failed")
		}
		return apperror.ProviderError(providerID, "malformed response body")
	}
	return nil
}

func (c *HTTPProviderClient) record(providerID string, success bool) {
	var err error
	if success {
		err = c.breaker.RecordSuccess(providerID)
	} else {
		err = c.breaker.RecordFailure(providerID)
	}
	if err != nil {
		c.log.Error().Err(err).Str("provider", providerID).Msg("breaker record failed")
	}
}

type authorizeRequest struct {
	PaymentID     string `json:"payment_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PAN           string `json:"pan"`
	Expiry        string `json:"expiry"`
	MerchantID    string `json:"merchant_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type authorizeResponse struct {
	Success       bool   `json:"success"`
	ProviderRef   string `json:"provider_ref"`
	DeclineReason string `json:"decline_reason"`
	ProviderID    string `json:"provider_id"`
}

func (c *HTTPProviderClient) AuthorizeCard(ctx context.Context, providerID string, in ports.AuthorizeCard) (ports.AuthorizeResult, error) {
	var out authorizeResponse
	req := authorizeRequest{
		PaymentID:     in.PaymentID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		PAN:           in.PAN,
		Expiry:        in.Expiry,
		MerchantID:    in.MerchantID,
		CorrelationID: correlation.FromContext(ctx),
	}
	if err := c.post(ctx, providerID, "authorize", req, &out); err != nil {
		return ports.AuthorizeResult{}, err
	}
	c.record(providerID, out.Success)
	return ports.AuthorizeResult{
		Success:       out.Success,
		ProviderRef:   out.ProviderRef,
		DeclineReason: out.DeclineReason,
		ProviderID:    out.ProviderID,
	}, nil
}

type captureRequest struct {
	PaymentID     string `json:"payment_id"`
	ProviderRef   string `json:"provider_ref"`
	Amount        int64  `json:"amount"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type captureResponse struct {
	Success     bool   `json:"success"`
	ProviderRef string `json:"provider_ref"`
	ProviderID  string `json:"provider_id"`
}

func (c *HTTPProviderClient) Capture(ctx context.Context, providerID, paymentID, providerRef string, amount int64) (ports.CaptureResult, error) {
	var out captureResponse
	req := captureRequest{
		PaymentID:     paymentID,
		ProviderRef:   providerRef,
		Amount:        amount,
		CorrelationID: correlation.FromContext(ctx),
	}
	if err := c.post(ctx, providerID, "capture", req, &out); err != nil {
		return ports.CaptureResult{}, err
	}
	c.record(providerID, out.Success)
	return ports.CaptureResult{
		Success:     out.Success,
		ProviderRef: out.ProviderRef,
		ProviderID:  out.ProviderID,
	}, nil
}

type refundRequest struct {
	PaymentID     string `json:"payment_id"`
	ProviderRef   string `json:"provider_ref"`
	Amount        int64  `json:"amount"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type refundResponse struct {
	Success    bool   `json:"success"`
	RefundRef  string `json:"refund_ref"`
	ProviderID string `json:"provider_id"`
}

func (c *HTTPProviderClient) Refund(ctx context.Context, providerID, paymentID, providerRef string, amount int64) (ports.RefundResult, error) {
	var out refundResponse
	req := refundRequest{
		PaymentID:     paymentID,
		ProviderRef:   providerRef,
		Amount:        amount,
		CorrelationID: correlation.FromContext(ctx),
	}
	if err := c.post(ctx, providerID, "refund", req, &out); err != nil {
		return ports.RefundResult{}, err
	}
	c.record(providerID, out.Success)
	return ports.RefundResult{
		Success:    out.Success,
		RefundRef:  out.RefundRef,
		ProviderID: out.ProviderID,
	}, nil
}
