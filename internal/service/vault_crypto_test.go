package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultCryptoRoundTrip(t *testing.T) {
	c := NewVaultCrypto(newTestStore(t))

	ct, err := c.Encrypt("4242424242424242")
	require.NoError(t, err)
	assert.NotContains(t, ct, "4242424242424242")

	pt, err := c.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "4242424242424242", pt)
}

func TestVaultCryptoNonceUniqueness(t *testing.T) {
	c := NewVaultCrypto(newTestStore(t))

	ct1, err := c.Encrypt("4242424242424242")
	require.NoError(t, err)
	ct2, err := c.Encrypt("4242424242424242")
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2)
}

func TestVaultCryptoRotationKeepsOldCiphertexts(t *testing.T) {
	c := NewVaultCrypto(newTestStore(t))

	before, err := c.Encrypt("378282246310005")
	require.NoError(t, err)

	total, err := c.RotateKey()
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// Old ciphertext still opens with the retired key.
	pt, err := c.Decrypt(before)
	require.NoError(t, err)
	assert.Equal(t, "378282246310005", pt)

	// New ciphertexts use the new key and also round-trip.
	after, err := c.Encrypt("378282246310005")
	require.NoError(t, err)
	pt, err = c.Decrypt(after)
	require.NoError(t, err)
	assert.Equal(t, "378282246310005", pt)
}

func TestVaultCryptoRejectsGarbage(t *testing.T) {
	c := NewVaultCrypto(newTestStore(t))

	_, err := c.Decrypt("not base64!!!")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt("AAAA")
	assert.ErrorIs(t, err, ErrDecrypt)
}
