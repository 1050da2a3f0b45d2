// Package auth issues and validates credentialRef tokens.
//
// A credentialRef is the signed proof of identity carried in the auth cookie
// and replicated (as an opaque string) into each user's reduced-field
// cookie. It is a JWT: stateless, verifiable with only the HMAC secret, no
// lookup against any storage channel — which matters here, because the
// channels are best-effort and a login check must not depend on them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "rewards-engine"

// TokenTTL matches the per-user cookie lifetime: a credentialRef embedded
// in a 30-day cookie that expired after minutes would make every replicated
// cookie useless for most of its life.
const TokenTTL = 30 * 24 * time.Hour

// TokenService signs and verifies credentialRef tokens with an HMAC secret.
// The same secret must be shared by every engine process on the machine.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService. The secret should be at least 32
// bytes of random data in production (JWT_SECRET=$(openssl rand -hex 32)).
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims embeds jwt.RegisteredClaims; the user's internal ID rides in the
// standard "sub" claim, and the normalized email in a private claim so
// collaborating pages can show identity without touching the registry.
type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity is what a validated credentialRef proves.
type Identity struct {
	UserID string
	Email  string
}

// Generate signs a credentialRef for the given user.
func (s *TokenService) Generate(userID, email string) (string, error) {
	return s.GenerateWithDuration(userID, email, TokenTTL)
}

// GenerateWithDuration signs a credentialRef with a custom lifetime.
// Used in tests and for short-lived operator tokens.
func (s *TokenService) GenerateWithDuration(userID, email string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a credentialRef string.
//
// Restricting the accepted algorithms to HS256 closes the classic algorithm
// confusion hole where a token claiming alg "none" sneaks through.
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("auth: token expired")
		}
		return Identity{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("auth: token has no subject")
	}

	return Identity{UserID: c.Subject, Email: c.Email}, nil
}
