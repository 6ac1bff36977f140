// Package auth issues and verifies the bearer tokens that bind a request to
// a player. Tokens are HS256 JWTs whose subject is the player id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims are the JWT claims carried by a player token
type Claims struct {
	jwt.RegisteredClaims
}

// Signer issues and verifies player tokens
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer. A zero ttl issues tokens that never expire.
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a token for playerID
func (s *Signer) Issue(playerID string) (string, error) {
	if playerID == "" {
		return "", fmt.Errorf("%w: empty player id", ErrInvalidToken)
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  playerID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify returns the player a token was issued to
func (s *Signer) Verify(token string) (string, error) {
	claims := &Claims{}
	// expiry is checked below against s.now
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return "", ErrInvalidToken
	}

	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if claims.ExpiresAt != nil && !claims.VerifyExpiresAt(s.now(), true) {
		return "", ErrExpiredToken
	}
	return claims.Subject, nil
}

type contextKey struct{}

// WithPlayer returns a context carrying the authenticated player id
func WithPlayer(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, contextKey{}, playerID)
}

// PlayerFromContext returns the authenticated player id, or "" if none
func PlayerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
