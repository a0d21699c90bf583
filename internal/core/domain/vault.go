package domain

import (
	"strings"
	"time"
)

// CardRecord is the vault-side metadata kept per token. The PAN itself
// is stored only in envelope-encrypted form.
type CardRecord struct {
	EncryptedPAN   string    `json:"encrypted_pan"`
	BIN            string    `json:"bin"`
	LastFour       string    `json:"last_four"`
	Expiry         string    `json:"expiry"`
	CardBrand      string    `json:"card_brand"`
	CardholderName string    `json:"cardholder_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// VaultAccessEntry is one line of the vault access log, appended on
// every read or write of card material.
type VaultAccessEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Action        string    `json:"action"`
	Token         string    `json:"token"`
	Requester     string    `json:"requester"`
	Purpose       string    `json:"purpose"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// DetectCardBrand maps leading BIN digits to a card brand.
func DetectCardBrand(pan string) string {
	switch {
	case strings.HasPrefix(pan, "37"):
		return "amex"
	case strings.HasPrefix(pan, "4"):
		return "visa"
	case strings.HasPrefix(pan, "5"):
		return "mastercard"
	case strings.HasPrefix(pan, "6"):
		return "discover"
	}
	return "unknown"
}
