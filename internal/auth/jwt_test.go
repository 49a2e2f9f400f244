package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthenticatorRoundTrip(t *testing.T) {
	a, err := NewJWTAuthenticator("test-secret", "savesync-test")
	require.NoError(t, err)

	token, err := a.Sign("ichi", time.Hour, time.Now())
	require.NoError(t, err)

	user, err := a.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ichi", user)
}

func TestJWTAuthenticatorRejects(t *testing.T) {
	a, err := NewJWTAuthenticator("test-secret", "savesync-test")
	require.NoError(t, err)
	other, err := NewJWTAuthenticator("other-secret", "savesync-test")
	require.NoError(t, err)
	wrongIssuer, err := NewJWTAuthenticator("test-secret", "someone-else")
	require.NoError(t, err)
	ctx := context.Background()

	expired, err := a.Sign("ichi", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = a.Resolve(ctx, expired)
	assert.ErrorIs(t, err, ErrUnauthorized)

	forged, err := other.Sign("ichi", time.Hour, time.Now())
	require.NoError(t, err)
	_, err = a.Resolve(ctx, forged)
	assert.ErrorIs(t, err, ErrUnauthorized)

	foreign, err := wrongIssuer.Sign("ichi", time.Hour, time.Now())
	require.NoError(t, err)
	_, err = a.Resolve(ctx, foreign)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Resolve(ctx, "token1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewJWTAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewJWTAuthenticator(" ", "")
	assert.Error(t, err)
}
