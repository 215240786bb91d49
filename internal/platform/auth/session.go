package auth

import (
	crypto_rand "crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ehr/annotator/internal/platform/workspace"
)

// Issuer is the iss claim on every session token.
const Issuer = "annotator"

// Claims are the session token claims. Subject holds the normalized email.
type Claims struct {
	jwt.RegisteredClaims
	Workspace string `json:"ws"`
}

// Sessions issues and verifies HS256 session tokens. A session only records
// who the user said they are; it is not proof of identity.
type Sessions struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSessions creates a token issuer. When key is empty a random key is
// generated, which invalidates all sessions on restart.
func NewSessions(key []byte, ttl time.Duration) (*Sessions, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := crypto_rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	return &Sessions{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue validates email and returns a signed token for it along with the
// normalized email and its expiry.
func (s *Sessions) Issue(email string) (token, normalized string, expiresAt time.Time, err error) {
	normalized, err = workspace.ValidateEmail(email)
	if err != nil {
		return "", "", time.Time{}, err
	}

	now := s.now()
	expiresAt = now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   normalized,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Workspace: workspace.UserID(normalized),
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, normalized, expiresAt, nil
}

// Verify checks the token signature and expiry and returns the session email.
func (s *Sessions) Verify(tokenStr string) (string, error) {
	claims := &Claims{}
	opts := append(parserOptions(Issuer), jwt.WithTimeFunc(s.now))

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", errors.New("session token has no subject")
	}
	return claims.Subject, nil
}
