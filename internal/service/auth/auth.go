// Package auth talks to the hosted auth service (Supabase GoTrue) and
// verifies the access tokens it issues.
package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized is returned for missing, invalid or expired tokens.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrDisabled is returned when no auth backend is configured.
	ErrDisabled = errors.New("auth: not configured")
)

// Claims are the JWT claims the auth service puts in access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	Role        string `json:"role"`
	SessionID   string `json:"session_id"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

type ctxKey struct{}

// WithUserID stores the authenticated user id on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFrom returns the user id stored by WithUserID.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
