package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestCredentialCipher_RoundTrip(t *testing.T) {
	c, err := NewCredentialCipher(testKey)
	require.NoError(t, err)

	enc, err := c.Encrypt("gateway-user")
	require.NoError(t, err)
	parts := strings.Split(enc, ":")
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 32)

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "gateway-user", dec)

	t.Run("FreshIVPerCall", func(t *testing.T) {
		again, err := c.Encrypt("gateway-user")
		require.NoError(t, err)
		assert.NotEqual(t, enc, again)
	})

	t.Run("EmptyPlaintext", func(t *testing.T) {
		enc, err := c.Encrypt("")
		require.NoError(t, err)
		dec, err := c.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, "", dec)
	})
}

func TestCredentialCipher_Errors(t *testing.T) {
	_, err := NewCredentialCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	c, err := NewCredentialCipher(testKey)
	require.NoError(t, err)

	cases := map[string]string{
		"MissingSeparator": "abcdef",
		"BadHex":           "zz:zz",
		"ShortIV":          "00:00112233445566778899aabbccddeeff",
		"BadBlockSize":     strings.Repeat("00", 16) + ":0011",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(value)
			assert.ErrorIs(t, err, ErrMalformedCipher)
		})
	}

	t.Run("WrongKey", func(t *testing.T) {
		enc, err := c.Encrypt("secret")
		require.NoError(t, err)
		other, err := NewCredentialCipher([]byte("fedcba9876543210fedcba9876543210"))
		require.NoError(t, err)
		dec, err := other.Decrypt(enc)
		if err == nil {
			assert.NotEqual(t, "secret", dec)
		}
	})
}

func TestTokenManager(t *testing.T) {
	tm := NewTokenManager("a-very-long-secret-for-testing-purposes", time.Hour, 15*time.Minute)

	session, err := tm.GenerateSessionToken("acc-1", "a@example.com")
	require.NoError(t, err)
	claims, err := tm.ValidateToken(session)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeSession, claims.Type)
	assert.Equal(t, "acc-1", claims.AccountID)

	payment, err := tm.GeneratePaymentToken("acc-1", "case-1")
	require.NoError(t, err)
	claims, err = tm.ValidateToken(payment)
	require.NoError(t, err)
	assert.Equal(t, TokenTypePayment, claims.Type)
	assert.Equal(t, "case-1", claims.CaseID)

	_, err = tm.ValidateToken(session + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenManager("a-very-long-secret-for-testing-purposes", -time.Minute, time.Minute)
	old, err := expired.GenerateSessionToken("acc-1", "a@example.com")
	require.NoError(t, err)
	_, err = tm.ValidateToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestPasswords(t *testing.T) {
	pw, err := GenerateTempPassword(12)
	require.NoError(t, err)
	assert.Len(t, pw, 12)

	hash, err := HashPassword(pw)
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, pw))
	assert.False(t, CheckPassword(hash, pw+"x"))
}
