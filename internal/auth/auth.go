package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"entity-api/internal/metadata"
)

// Claims are carried by an access token. The subject is the actor id.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Actor turns verified claims into the request actor.
func (c *Claims) Actor() *metadata.UserContext {
	return &metadata.UserContext{ID: c.Subject, Roles: c.Roles}
}

// Only HS256 is accepted and every token must expire.
var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithExpirationRequired(),
)

// IssueToken signs an access token for actor that expires after ttl.
func IssueToken(actor *metadata.UserContext, secret string, ttl time.Duration) (string, error) {
	if actor == nil || actor.ID == "" {
		return "", errors.New("issue token: actor id is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: actor.Roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the signature and expiry of raw.
func ParseToken(raw, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// HashPassword is the write engine's hasher for password fields.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plain matches a stored bcrypt hash.
func VerifyPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
