package service

import (
	"context"
	"encoding/json"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/pkg/apperror"
	"payrail/pkg/correlation"

	"github.com/rs/zerolog"
)

// TokenizedCard is the client-safe view returned by tokenize and
// detokenize. It never carries the PAN.
type TokenizedCard struct {
	Token     string `json:"token"`
	LastFour  string `json:"last_four"`
	CardBrand string `json:"card_brand"`
	Expiry    string `json:"expiry,omitempty"`
}

// ChargeableCard is the decrypted card material handed out only for
// immediate provider submission.
type ChargeableCard struct {
	PAN       string `json:"pan"`
	Expiry    string `json:"expiry"`
	CardBrand string `json:"card_brand"`
}

// VaultService stores PANs envelope-encrypted under opaque tokens and
// appends an access-log line for every read or write.
type VaultService struct {
	store  *filestore.Store
	crypto *VaultCrypto
	log    zerolog.Logger
}

func NewVaultService(store *filestore.Store, crypto *VaultCrypto, log zerolog.Logger) *VaultService {
	return &VaultService{store: store, crypto: crypto, log: log}
}

func (v *VaultService) logAccess(ctx context.Context, action, token, requester, purpose string) {
	entry := domain.VaultAccessEntry{
		Timestamp:     time.Now().UTC(),
		Action:        action,
		Token:         token,
		Requester:     requester,
		Purpose:       purpose,
		CorrelationID: correlation.FromContext(ctx),
	}
	if err := v.store.AppendJSONL(pathVaultAccessLog, entry); err != nil {
		v.log.Error().Err(err).Str("action", action).Msg("access log append failed")
	}
}

// Tokenize validates and encrypts a PAN, returning a fresh token.
func (v *VaultService) Tokenize(ctx context.Context, pan, expiry, cardholderName, requester, purpose string) (TokenizedCard, error) {
	if len(pan) < 13 || len(pan) > 19 {
		return TokenizedCard{}, apperror.BadRequest("Invalid PAN length")
	}

	token := domain.NewTokenID()
	encrypted, err := v.crypto.Encrypt(pan)
	if err != nil {
		return TokenizedCard{}, apperror.Internal(err)
	}
	brand := domain.DetectCardBrand(pan)
	lastFour := pan[len(pan)-4:]

	tokens := map[string]string{}
	if err := v.store.Update(pathVaultTokens, &tokens, func() error {
		tokens[token] = encrypted
		return nil
	}); err != nil {
		return TokenizedCard{}, apperror.Internal(err)
	}

	cards := map[string]domain.CardRecord{}
	if err := v.store.Update(pathVaultCards, &cards, func() error {
		cards[token] = domain.CardRecord{
			EncryptedPAN:   encrypted,
			BIN:            pan[:6],
			LastFour:       lastFour,
			Expiry:         expiry,
			CardBrand:      brand,
			CardholderName: cardholderName,
			CreatedAt:      time.Now().UTC(),
		}
		return nil
	}); err != nil {
		return TokenizedCard{}, apperror.Internal(err)
	}

	v.logAccess(ctx, "tokenize", token, requester, purpose)
	v.log.Info().Str("token", token).Str("last_four", lastFour).Msg("card tokenized")

	return TokenizedCard{Token: token, LastFour: lastFour, CardBrand: brand}, nil
}

// Detokenize returns card metadata only, never the PAN.
func (v *VaultService) Detokenize(ctx context.Context, token, requester, purpose string) (TokenizedCard, error) {
	card, err := v.cardRecord(token)
	if err != nil {
		return TokenizedCard{}, err
	}
	v.logAccess(ctx, "detokenize", token, requester, purpose)
	return TokenizedCard{
		Token:     token,
		LastFour:  card.LastFour,
		CardBrand: card.CardBrand,
		Expiry:    card.Expiry,
	}, nil
}

// ChargeToken decrypts the PAN for immediate provider submission.
func (v *VaultService) ChargeToken(ctx context.Context, token, requester, purpose string) (ChargeableCard, error) {
	tokens := map[string]string{}
	if err := v.store.ReadJSON(pathVaultTokens, &tokens); err != nil && err != filestore.ErrNotFound {
		return ChargeableCard{}, apperror.Internal(err)
	}
	encrypted, ok := tokens[token]
	if !ok {
		return ChargeableCard{}, apperror.NotFound("Token", token)
	}
	pan, err := v.crypto.Decrypt(encrypted)
	if err != nil {
		return ChargeableCard{}, apperror.Internal(err)
	}
	card, err := v.cardRecord(token)
	if err != nil {
		return ChargeableCard{}, err
	}

	v.logAccess(ctx, "charge-token", token, requester, purpose)
	v.log.Info().Str("token", token).Msg("token charged")

	return ChargeableCard{PAN: pan, Expiry: card.Expiry, CardBrand: card.CardBrand}, nil
}

// RotateKeys makes a fresh encryption key active while keeping prior
// keys for decryption.
func (v *VaultService) RotateKeys(ctx context.Context) (int, error) {
	total, err := v.crypto.RotateKey()
	if err != nil {
		return 0, apperror.Internal(err)
	}
	v.logAccess(ctx, "rotate-keys", "N/A", "admin", "key-rotation")
	v.log.Info().Int("total_keys", total).Msg("vault key rotated")
	return total, nil
}

// AccessLog returns the newest access-log lines, up to limit.
func (v *VaultService) AccessLog(limit int) ([]domain.VaultAccessEntry, int, error) {
	var entries []domain.VaultAccessEntry
	err := v.store.ReadJSONL(pathVaultAccessLog, func(line json.RawMessage) error {
		var e domain.VaultAccessEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, 0, apperror.Internal(err)
	}
	total := len(entries)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, total, nil
}

func (v *VaultService) cardRecord(token string) (domain.CardRecord, error) {
	cards := map[string]domain.CardRecord{}
	if err := v.store.ReadJSON(pathVaultCards, &cards); err != nil && err != filestore.ErrNotFound {
		return domain.CardRecord{}, apperror.Internal(err)
	}
	card, ok := cards[token]
	if !ok {
		return domain.CardRecord{}, apperror.NotFound("Token", token)
	}
	return card, nil
}
