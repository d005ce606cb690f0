package auth

import (
	"context"
	"errors"
	"time"

	"github.com/marketmux/marketmux/internal/jwtauth"
)

// AccessTokenAuthOption configures optional aspects of the JWT access token
// authenticator (scopes, algorithms, leeway). Audience is a required formal
// argument to the constructors instead of an option.
type AccessTokenAuthOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = false
	}
}

// WithAnyRequiredScope requires at least one of the provided scopes to be present.
func WithAnyRequiredScope(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = true
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// DiscoveryEndpoints exposes advertisement-only endpoints the authenticator
// learned via OIDC discovery, for populating well-known documents.
type DiscoveryEndpoints interface {
	AuthorizationEndpoint() string
	TokenEndpoint() string
	JWKSURI() string
}

// NewFromDiscovery returns an Authenticator that verifies JWT access tokens
// against key material discovered via OpenID Connect discovery.
//
// Required:
//   - issuer:   authorization server issuer URL
//   - audience: expected audience ("aud") claim, typically the public endpoint URL
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...AccessTokenAuthOption) (Authenticator, error) {
	cfg, err := buildConfig(issuer, audience, opts)
	if err != nil {
		return nil, err
	}
	internal, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal, meta: internal}, nil
}

// NewStaticJWKS returns an Authenticator that verifies JWT access tokens
// against a fixed JWKS URI, skipping discovery.
func NewStaticJWKS(ctx context.Context, issuer, audience, jwksURI string, opts ...AccessTokenAuthOption) (Authenticator, error) {
	cfg, err := buildConfig(issuer, audience, opts)
	if err != nil {
		return nil, err
	}
	internal, err := jwtauth.NewStatic(ctx, cfg, jwksURI)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal}, nil
}

func buildConfig(issuer, audience string, opts []AccessTokenAuthOption) (*jwtauth.Config, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{audience}
	for _, opt := range opts {
		opt(cfg)
	}
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	return cfg, nil
}

// adapter wraps the internal authenticator to satisfy the public interface,
// mapping internal sentinel errors to the public ones the transport branches
// on.
type adapter struct {
	a    jwtauth.Authenticator
	meta jwtauth.DiscoveryMetadata // nil for static JWKS
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := ad.a.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return userInfoAdapter{ui: ui}, nil
}

// AuthorizationEndpoint returns the discovered authorize endpoint, if any.
func (ad *adapter) AuthorizationEndpoint() string {
	if ad.meta == nil {
		return ""
	}
	return ad.meta.AuthorizationEndpoint()
}

// TokenEndpoint returns the discovered token endpoint, if any.
func (ad *adapter) TokenEndpoint() string {
	if ad.meta == nil {
		return ""
	}
	return ad.meta.TokenEndpoint()
}

// JWKSURI returns the discovered JWKS URI, if any.
func (ad *adapter) JWKSURI() string {
	if ad.meta == nil {
		return ""
	}
	return ad.meta.JWKSURI()
}

type userInfoAdapter struct{ ui jwtauth.UserInfo }

func (u userInfoAdapter) UserID() string       { return u.ui.UserID() }
func (u userInfoAdapter) Claims(ref any) error { return u.ui.Claims(ref) }
