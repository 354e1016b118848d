// Package auth provides token-based authentication for the API
// surface. There are no user accounts in this system; callers present
// a bearer token minted by the payment frontend, and this package only
// validates it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common authentication errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims holds the validated token claims the API cares about.
type Claims struct {
	// Subject identifies the caller (the payment frontend sets it to
	// its session or customer identifier).
	Subject string
}

// JWTService validates and mints API bearer tokens.
type JWTService interface {
	// GenerateToken mints a token for the given subject.
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken verifies the token signature and expiry and returns
	// its claims.
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// hmacJWTService implements JWTService with HMAC-SHA256 signing.
type hmacJWTService struct {
	secret   []byte
	lifetime time.Duration
}

// NewJWTService creates a JWTService signing with the given secret.
func NewJWTService(secret string, lifetime time.Duration) (JWTService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return &hmacJWTService{
		secret:   []byte(secret),
		lifetime: lifetime,
	}, nil
}

// GenerateToken mints a signed token for the subject.
func (s *hmacJWTService) GenerateToken(ctx context.Context, subject string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature and expiry.
func (s *hmacJWTService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return &Claims{Subject: claims.Subject}, nil
}
