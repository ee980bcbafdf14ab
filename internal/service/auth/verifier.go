package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Verifier validates access tokens against the auth service's public keys.
type Verifier struct {
	keyfunc jwt.Keyfunc
	log     zerolog.Logger
}

// NewVerifier fetches and caches the JWKS at jwksURL. keyfunc refreshes the
// set on its own.
func NewVerifier(ctx context.Context, jwksURL string, log zerolog.Logger) (*Verifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKS URL cannot be empty")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}
	log.Info().Str("jwks_url", jwksURL).Msg("JWT verifier initialized")
	return NewVerifierWithKeyfunc(jwks.Keyfunc, log), nil
}

// NewVerifierWithKeyfunc builds a verifier around an existing key lookup.
func NewVerifierWithKeyfunc(kf jwt.Keyfunc, log zerolog.Logger) *Verifier {
	return &Verifier{keyfunc: kf, log: log.With().Str("component", "auth").Logger()}
}

// Verify parses token and returns its claims. Only RS256 and ES256 tokens for
// the "authenticated" role are accepted.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		v.log.Debug().Err(err).Msg("token rejected")
		return nil, ErrUnauthorized
	}
	if claims.Subject == "" {
		v.log.Debug().Msg("token missing subject claim")
		return nil, ErrUnauthorized
	}
	// reject anon tokens
	if claims.Role != "authenticated" {
		v.log.Warn().Str("role", claims.Role).Str("user_id", claims.Subject).Msg("token has invalid role")
		return nil, ErrUnauthorized
	}
	return claims, nil
}
