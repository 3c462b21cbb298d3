// Package auth issues and checks the bearer tokens that guard the
// aggregator's admin endpoints.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin       = "admin"
	defaultTokenTTL = 24 * time.Hour
	issuer          = "privacyspace"
)

var ErrSecretNotConfigured = errors.New("auth: JWT_SECRET is not configured")

func secret() ([]byte, error) {
	value := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if value == "" {
		return nil, ErrSecretNotConfigured
	}
	return []byte(value), nil
}

// GenerateToken signs an HS256 token for subject with the given role.
// ttl <= 0 uses one day.
func GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	key, err := secret()
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iss":  issuer,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	key, err := secret()
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	return claims, nil
}
