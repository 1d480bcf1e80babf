package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	service, err := NewTokenService("secret", "complices")
	require.NoError(t, err)

	token, expires, err := service.Issue("user-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, time.Until(expires) > 0, "expected expiry in the future, got %v", expires)

	subject, err := service.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject)
}

func TestTokenServiceRejectsInvalidTokens(t *testing.T) {
	service, err := NewTokenService("secret", "complices")
	require.NoError(t, err)
	other, err := NewTokenService("another-secret", "complices")
	require.NoError(t, err)
	foreign, err := NewTokenService("secret", "someone-else")
	require.NoError(t, err)

	forged, _, err := other.Issue("user-1", time.Hour)
	require.NoError(t, err)
	_, err = service.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	wrongIssuer, _, err := foreign.Issue("user-1", time.Hour)
	require.NoError(t, err)
	_, err = service.Verify(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	expired, _, err := service.Issue("user-1", time.Minute)
	require.NoError(t, err)
	service.WithNowFunc(func() time.Time { return time.Now().Add(2 * time.Minute) })
	_, err = service.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	_, err = service.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken, "garbage")
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService("  ", "")
	assert.Error(t, err)
}
