// Package correlation carries per-request correlation ids through
// context.Context so every downstream call and ledger entry can be
// traced back to the request that caused it.
package correlation

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Generate returns a fresh correlation id of the form corr_<16hex>.
func Generate() string {
	u := uuid.New()
	return "corr_" + hex.EncodeToString(u[:8])
}

// With returns a child context carrying cid.
func With(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, ctxKey{}, cid)
}

// FromContext returns the correlation id stored in ctx, generating one
// if the context carries none.
func FromContext(ctx context.Context) string {
	if cid, ok := ctx.Value(ctxKey{}).(string); ok && cid != "" {
		return cid
	}
	return Generate()
}
