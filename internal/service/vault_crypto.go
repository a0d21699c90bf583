package service

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"payrail/internal/adapter/storage/filestore"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned when no key in the ring can open a
// ciphertext.
var ErrDecrypt = errors.New("vault: decryption failed")

type keyRing struct {
	Keys           []string `json:"keys"`
	ActiveKeyIndex int      `json:"active_key_index"`
}

// VaultCrypto envelope-encrypts PANs with a rotating key ring persisted
// in the durable store. New keys are prepended; decryption tries every
// key in order, so rotation never re-encrypts stored ciphertexts.
type VaultCrypto struct {
	store *filestore.Store
}

func NewVaultCrypto(store *filestore.Store) *VaultCrypto {
	return &VaultCrypto{store: store}
}

func newKeyHex() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// loadRing reads the key ring, generating the first key on demand.
func (c *VaultCrypto) loadRing() (keyRing, error) {
	var ring keyRing
	err := c.store.Update(pathVaultKeys, &ring, func() error {
		if len(ring.Keys) == 0 {
			k, err := newKeyHex()
			if err != nil {
				return err
			}
			ring.Keys = []string{k}
			ring.ActiveKeyIndex = 0
		}
		return nil
	})
	return ring, err
}

// Encrypt seals plaintext with the active key. Output is
// base64(nonce || ciphertext).
func (c *VaultCrypto) Encrypt(plaintext string) (string, error) {
	ring, err := c.loadRing()
	if err != nil {
		return "", err
	}
	key, err := hex.DecodeString(ring.Keys[ring.ActiveKeyIndex])
	if err != nil {
		return "", fmt.Errorf("vault: bad key material: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt tries every key in the ring, newest first.
func (c *VaultCrypto) Decrypt(ciphertext string) (string, error) {
	ring, err := c.loadRing()
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	for _, keyHex := range ring.Keys {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			continue
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			continue
		}
		if len(raw) < aead.NonceSize() {
			return "", ErrDecrypt
		}
		nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
		if plaintext, err := aead.Open(nil, nonce, sealed, nil); err == nil {
			return string(plaintext), nil
		}
	}
	return "", ErrDecrypt
}

// RotateKey prepends a fresh key and makes it active. Returns the new
// ring size.
func (c *VaultCrypto) RotateKey() (int, error) {
	var total int
	var ring keyRing
	err := c.store.Update(pathVaultKeys, &ring, func() error {
		k, err := newKeyHex()
		if err != nil {
			return err
		}
		ring.Keys = append([]string{k}, ring.Keys...)
		ring.ActiveKeyIndex = 0
		total = len(ring.Keys)
		return nil
	})
	return total, err
}
