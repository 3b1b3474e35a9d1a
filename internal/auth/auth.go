// Package auth verifies and mints the HS256 bearer tokens accepted by the store.
package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/appstore/internal/errs"
)

// Permissions carried in the perms claim.
const (
	PermSubmit         = "app.submit"
	PermCategoryChange = "category.change"
	PermReap           = "downloads.reap"
)

// Claims are the registered claims plus the caller's permissions.
type Claims struct {
	jwt.RegisteredClaims
	Perms []string `json:"perms,omitempty"`
}

// Principal is an authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Perms  []string
}

// Has reports whether the principal holds perm.
func (p Principal) Has(perm string) bool { return slices.Contains(p.Perms, perm) }

// Verifier checks tokens signed with a shared HS256 key.
type Verifier struct {
	key    []byte
	leeway time.Duration
}

// NewVerifier constructs a verifier.
func NewVerifier(key []byte) *Verifier { return &Verifier{key: key, leeway: 30 * time.Second} }

// Verify parses tok and returns its principal. Every failure maps to errs.ErrUnauthorized.
func (v *Verifier) Verify(tok string) (Principal, error) {
	if len(v.key) == 0 {
		return Principal{}, errs.ErrUnauthorized
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.key, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Principal{}, errs.ErrUnauthorized
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return Principal{}, errs.ErrUnauthorized
	}
	return Principal{UserID: id, Perms: claims.Perms}, nil
}

// Issue mints a token for subject valid for ttl.
func Issue(key []byte, subject uuid.UUID, perms []string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Perms: perms,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	v := strings.TrimSpace(header)
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, true
		}
	}
	return "", false
}

type ctxKey string

const principalKey ctxKey = "appstore.principal"

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext fetches the authenticated caller from context.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
