// internal/auth/token.go
// Package auth issues and verifies bearer tokens and hashes account passwords.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	errordefs "github.com/animeverse/catalog-go/internal/errors"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by every catalog bearer token. The subject is the account id.
type Claims struct {
	Role     model.Role `json:"role"`
	Username string     `json:"username"`
	jwt.RegisteredClaims
}

// AccountID parses the subject claim.
func (c *Claims) AccountID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return id, nil
}

// Tokens signs and verifies HS256 tokens for one issuer/audience pair.
type Tokens struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokens creates a token service.
// Parameters:
//   - secret: HMAC signing key
//   - issuer: iss claim written and required
//   - audience: aud claim written and required
//   - ttl: lifetime of issued tokens
func NewTokens(secret, issuer, audience string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue signs a token for the account.
func (t *Tokens) Issue(a model.Account) (string, error) {
	now := t.now()
	claims := Claims{
		Role:     a.Role,
		Username: a.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(a.ID, 10),
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience and expiry.
// Failures are returned as *errordefs.Error with CAT_TOKEN_EXPIRED or CAT_TOKEN_INVALID.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, errordefs.New(errordefs.CAT_TOKEN_EXPIRED, "token expired", "")
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, errordefs.New(errordefs.CAT_TOKEN_INVALID, "invalid token issuer", "")
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, errordefs.New(errordefs.CAT_TOKEN_INVALID, "invalid token audience", "")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errordefs.New(errordefs.CAT_TOKEN_INVALID, "invalid token signature", "")
		default:
			return nil, errordefs.New(errordefs.CAT_TOKEN_INVALID, "invalid token", "")
		}
	}
	if !tok.Valid {
		return nil, errordefs.New(errordefs.CAT_TOKEN_INVALID, "invalid token", "")
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, errordefs.New(errordefs.CAT_TOKEN_INVALID, "missing or invalid sub claim", "")
	}
	return claims, nil
}
