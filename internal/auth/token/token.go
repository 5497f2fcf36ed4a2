// Package token issues and validates the HMAC-signed JWT access tokens that
// the identity service hands out and the gateway checks.
package token

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
)

// Claims carried by an access token. UserID is also written to the
// standard subject claim.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// Subject returns the stable user id.
func (c *Claims) Subject() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Validator checks signature and expiry. It holds no state besides the
// secret, so one instance is shared by all requests.
type Validator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewValidator creates a Validator. A non-empty issuer must match the
// token's iss claim.
func NewValidator(secret, issuer string) *Validator {
	return &Validator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Validate parses tokenString and returns its claims. An empty string yields
// ErrMissingToken; every other failure yields ErrInvalidToken.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, apperrors.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}
	if !tok.Valid || claims.Subject() == "" {
		return nil, fmt.Errorf("%w: no subject", apperrors.ErrInvalidToken)
	}
	return claims, nil
}

// FromRequest extracts the bearer token from the Authorization header.
// It returns "" when the header is absent or uses another scheme.
func FromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// Issuer signs new access tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue returns a signed HS256 token for the user and its expiry.
func (i *Issuer) Issue(userID, username string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID:   userID,
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, exp, nil
}
