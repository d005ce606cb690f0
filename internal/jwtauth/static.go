package jwtauth

import (
	"context"
	"errors"
	"fmt"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

type staticAuthenticator struct {
	cfg     *Config
	iss     string
	keyfunc jwt.Keyfunc
}

var _ Authenticator = (*staticAuthenticator)(nil)

// NewStatic constructs an authenticator that validates JWT access tokens
// against a statically configured issuer, audiences and JWKS URI (no
// discovery round-trip).
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (*staticAuthenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &staticAuthenticator{
		cfg:     cfg,
		iss:     normalizeIssuer(cfg.Issuer),
		keyfunc: guardedKeyfunc(cfg.AllowedAlgs, kf.Keyfunc),
	}, nil
}

func (a *staticAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	return checkToken(tok, a.cfg, a.iss, a.keyfunc)
}
