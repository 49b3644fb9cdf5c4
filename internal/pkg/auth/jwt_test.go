package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	a, err := NewAuthenticator(Config{})
	require.Error(t, err)
	assert.Nil(t, a)
}

func TestAuthenticator_RoundTrip(t *testing.T) {
	a, err := NewAuthenticator(Config{SecretKey: "secret", Issuer: "notifyd"})
	require.NoError(t, err)

	token, err := a.IssueToken("billing-service", []string{ScopeNotify, ScopeWebhooks}, time.Hour)
	require.NoError(t, err)

	subject, scopes, err := a.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "billing-service", subject)
	assert.Equal(t, []string{ScopeNotify, ScopeWebhooks}, scopes)
}

func TestAuthenticator_RejectsExpired(t *testing.T) {
	a, err := NewAuthenticator(Config{SecretKey: "secret"})
	require.NoError(t, err)

	token, err := a.IssueToken("svc", []string{ScopeNotify}, time.Minute)
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, _, err = a.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_RejectsWrongSecret(t *testing.T) {
	issuer, err := NewAuthenticator(Config{SecretKey: "one"})
	require.NoError(t, err)
	verifier, err := NewAuthenticator(Config{SecretKey: "two"})
	require.NoError(t, err)

	token, err := issuer.IssueToken("svc", nil, time.Hour)
	require.NoError(t, err)

	_, _, err = verifier.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticator_RejectsWrongIssuer(t *testing.T) {
	issuer, err := NewAuthenticator(Config{SecretKey: "s", Issuer: "other"})
	require.NoError(t, err)
	verifier, err := NewAuthenticator(Config{SecretKey: "s", Issuer: "notifyd"})
	require.NoError(t, err)

	token, err := issuer.IssueToken("svc", nil, time.Hour)
	require.NoError(t, err)

	_, _, err = verifier.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
