package domain

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// newID builds a prefixed identifier backed by random UUID bytes,
// e.g. newID("pi_", 12) -> "pi_3fa85f64b2c1".
func newID(prefix string, hexLen int) string {
	u := uuid.New()
	return prefix + hex.EncodeToString(u[:])[:hexLen]
}

func NewPaymentID() string  { return newID("pi_", 12) }
func NewRefundID() string   { return newID("ref_", 12) }
func NewDisputeID() string  { return newID("dsp_", 12) }
func NewEventID() string    { return newID("evt_", 12) }
func NewOutboxID() string   { return newID("oevt_", 12) }
func NewTokenID() string    { return newID("tok_", 24) }
func NewWebhookID() string  { return newID("whevt_", 12) }

// NewProviderRefSuffix is the random tail of provider references such
// as ch_<12hex> and PSP_<12hex>.
func NewProviderRefSuffix() string { return newID("", 12) }
