package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthenticator accepts HS256 tokens signed by an external identity
// provider. The subject claim is the user id.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewJWTAuthenticator returns an authenticator for secret. When issuer is set,
// tokens must carry a matching iss claim.
func NewJWTAuthenticator(secret, issuer string) (*JWTAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	issuer = strings.TrimSpace(issuer)
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTAuthenticator{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}, nil
}

func (a *JWTAuthenticator) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMalformed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	claims := &jwt.RegisteredClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		// Includes tokens that are not JWTs at all: well-formed bearer, unknown token.
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	user := strings.TrimSpace(claims.Subject)
	if user == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return user, nil
}

// Sign issues a token for user valid for ttl. It is used by the admin CLI to
// mint tokens for testing and for deployments without a separate provider.
func (a *JWTAuthenticator) Sign(user string, ttl time.Duration, now time.Time) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", fmt.Errorf("user is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	claims := jwt.RegisteredClaims{
		Subject:   user,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
