// Package auth issues and validates service tokens for API callers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes understood by the API.
const (
	ScopeNotify   = "notify"
	ScopeWebhooks = "webhooks"
	ScopeAdmin    = "admin"
)

// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Config holds authenticator configuration.
type Config struct {
	SecretKey string
	Issuer    string
}

// Claims are the JWT claims carried by a service token.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 service tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. The secret must be non-empty.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("auth: secret key is required")
	}
	return &Authenticator{
		secret: []byte(cfg.SecretKey),
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// IssueToken creates a signed token for subject with the given scopes.
func (a *Authenticator) IssueToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies tokenString and returns its subject and scopes.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (string, []string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return claims.Subject, strings.Fields(claims.Scope), nil
}
