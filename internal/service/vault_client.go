package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"payrail/pkg/apperror"
	"payrail/pkg/correlation"

	"github.com/rs/zerolog"
)

const vaultTimeout = 5 * time.Second

// VaultHTTPClient is the gateway-side client for the vault service.
type VaultHTTPClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewVaultHTTPClient(baseURL string, log zerolog.Logger) *VaultHTTPClient {
	return &VaultHTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: vaultTimeout},
		log:     log,
	}
}

func (c *VaultHTTPClient) post(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return apperror.Internal(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperror.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", correlation.FromContext(ctx))

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("vault call failed")
		return apperror.BadGateway("Vault service unavailable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperror.NotFound("Token", "")
	case resp.StatusCode == http.StatusBadRequest:
		var body struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return apperror.BadRequest("%s", body.Detail)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return apperror.BadGateway("Vault service error: HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return apperror.BadGateway("Vault service error: malformed response")
	}
	return nil
}

// Tokenize stores a PAN in the vault and returns the token.
func (c *VaultHTTPClient) Tokenize(ctx context.Context, pan, expiry, requester string) (string, error) {
	var out TokenizedCard
	req := map[string]string{
		"pan":       pan,
		"expiry":    expiry,
		"requester": requester,
		"purpose":   "payment",
	}
	if err := c.post(ctx, "/tokenize", req, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// ChargeToken retrieves the decrypted card material for provider
// submission.
func (c *VaultHTTPClient) ChargeToken(ctx context.Context, token, requester string) (string, string, error) {
	var out ChargeableCard
	req := map[string]string{
		"token":     token,
		"requester": requester,
		"purpose":   "charge",
	}
	if err := c.post(ctx, "/charge-token", req, &out); err != nil {
		return "", "", err
	}
	return out.PAN, out.Expiry, nil
}
