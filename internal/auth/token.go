package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "bugtracker"

// Identity is the subset of a user record a token is built from.
type Identity struct {
	ID       string
	Email    string
	FullName string
	Roles    RoleSet
}

// Claims is the payload of a signed session token.
type Claims struct {
	UserID      string        `json:"_id"`
	Email       string        `json:"email"`
	FullName    string        `json:"fullName"`
	Role        RoleSet       `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role Role) bool {
	return c != nil && c.Role.Contains(role)
}

// HasPermission reports whether the claims carry p.
func (c *Claims) HasPermission(p Permission) bool {
	return c != nil && c.Permissions.Has(p)
}

// Map renders the claims as a plain document, the shape stored with edit records.
func (c *Claims) Map() map[string]any {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return map[string]any{"_id": c.UserID}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"_id": c.UserID}
	}
	return out
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	resolver *Resolver
	now      func() time.Time
}

// IssuerOption customises a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithIssuer overrides the iss claim.
func WithIssuer(name string) IssuerOption {
	return func(i *TokenIssuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewTokenIssuer builds an issuer around a process-wide secret.
func NewTokenIssuer(secret []byte, ttl time.Duration, resolver *Resolver, opts ...IssuerOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingKey
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token ttl must be greater than zero")
	}
	if resolver == nil {
		resolver = NewResolver(nil, nil)
	}
	i := &TokenIssuer{
		secret:   secret,
		issuer:   defaultIssuer,
		ttl:      ttl,
		resolver: resolver,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL is the lifetime of issued tokens.
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue resolves the identity's permissions and signs a token carrying them.
func (i *TokenIssuer) Issue(ctx context.Context, id Identity) (string, *Claims, error) {
	userID := strings.TrimSpace(id.ID)
	if userID == "" {
		return "", nil, errors.New("auth: identity id is required")
	}

	roles := NewRoleSet(id.Roles...)
	now := i.now().UTC()
	claims := &Claims{
		UserID:      userID,
		Email:       id.Email,
		FullName:    id.FullName,
		Role:        roles,
		Permissions: i.resolver.Permissions(ctx, roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, algorithm, issuer and expiry. Every failure is ErrInvalidToken.
func (i *TokenIssuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, ErrInvalidToken
	}
	if claims.Permissions == nil {
		claims.Permissions = make(PermissionSet)
	}
	return claims, nil
}
