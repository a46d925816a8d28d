// Package token issues and verifies the signed tokens of the authentication
// flows. Access and refresh tokens are HS256 JWTs signed with separate
// secrets; the type claim is always enforced on verification, so a refresh
// token presented where an access token is expected fails even when both
// secrets happen to be equal.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beanbrew/coffeeshop-api/pkg/config"
)

// Type discriminates the token kinds carried in the "type" claim.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Verification failure reasons. Callers collapse these into one uniform
// invalid-or-expired error at the API boundary.
var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
	ErrMalformedClaims  = errors.New("token: malformed claims")
	ErrWrongType        = errors.New("token: wrong token type")
)

// Claims is the compact claim set carried by every issued token.
type Claims struct {
	TokenType Type     `json:"type"`
	Scopes    []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Issuer creates and verifies signed tokens.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// New builds an Issuer from config.
func New(cfg config.JWTConfig, opts ...Option) *Issuer {
	i := &Issuer{
		accessSecret:  []byte(cfg.Secret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           time.Now,
	}
	if len(i.refreshSecret) == 0 {
		i.refreshSecret = i.accessSecret
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IssueAccessToken signs a short-lived access token for userID.
func (i *Issuer) IssueAccessToken(userID string, scopes ...string) (string, time.Time, error) {
	return i.issue(userID, TypeAccess, i.accessTTL, i.accessSecret, scopes)
}

// IssueRefreshToken signs a long-lived refresh token for userID.
func (i *Issuer) IssueRefreshToken(userID string) (string, time.Time, error) {
	return i.issue(userID, TypeRefresh, i.refreshTTL, i.refreshSecret, nil)
}

// VerifyAccessToken checks signature, expiry and type of an access token.
func (i *Issuer) VerifyAccessToken(raw string) (*Claims, error) {
	return i.verify(raw, i.accessSecret, TypeAccess)
}

// VerifyRefreshToken checks signature, expiry and type of a refresh token.
func (i *Issuer) VerifyRefreshToken(raw string) (*Claims, error) {
	return i.verify(raw, i.refreshSecret, TypeRefresh)
}

func (i *Issuer) issue(userID string, typ Type, ttl time.Duration, secret []byte, scopes []string) (string, time.Time, error) {
	issuedAt := i.now().UTC()
	expiresAt := issuedAt.Add(ttl)

	claims := &Claims{
		TokenType: typ,
		Scopes:    scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (i *Issuer) verify(raw string, secret []byte, want Type) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{},
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformedClaims
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedClaims
	}
	if claims.Subject == "" {
		return nil, ErrMalformedClaims
	}
	if claims.TokenType != want {
		return nil, ErrWrongType
	}

	return claims, nil
}
