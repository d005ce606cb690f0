// Package jwtauth validates bearer JWT access tokens against issuer, audience,
// and expiry rules. Two constructors are provided: NewFromDiscovery resolves
// the JWKS endpoint via OIDC discovery; NewStatic takes a JWKS URI directly.
// Both return errors wrapping ErrUnauthorized for any validation failure so
// callers can branch on the class of failure without inspecting strings.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates the access token failed validation (signature,
// issuer, audience, exp/nbf) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates the token was valid but did not satisfy the
// required scopes policy; callers should respond with HTTP 403 where relevant.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// Config controls validation behavior for access tokens.
type Config struct {
	Issuer string
	// ExpectedAudiences contains the primary audience (index 0) followed by any
	// additional accepted audiences. Keep this set small in production.
	ExpectedAudiences []string
	RequiredScopes    []string
	ScopeModeAny      bool // if true, any of RequiredScopes is sufficient; else all are required
	AllowedAlgs       []string
	// Leeway is the clock-skew allowance applied to exp/nbf/iat. Zero means
	// exp is compared strictly against the current instant.
	Leeway time.Duration
}

// DefaultConfig returns a Config with a safe algorithm default and no leeway.
func DefaultConfig() *Config {
	return &Config{AllowedAlgs: []string{"RS256"}}
}

// UserInfo is the claims carrier for validated tokens. It mirrors the minimal
// contract of the public auth package.
type UserInfo interface {
	UserID() string
	Claims(ref any) error
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Authenticator validates access tokens and returns a minimal UserInfo.
// Implementations MUST perform signature, issuer, audience and time checks.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// normalizeIssuer strips a single trailing slash so literal comparison
// tolerates the common "https://idp.example.com/" vs ".com" mismatch.
func normalizeIssuer(iss string) string {
	return strings.TrimSuffix(iss, "/")
}

type discoveryAuthenticator struct {
	cfg     *Config
	iss     string
	keyfunc jwt.Keyfunc

	authorizationEndpoint string
	tokenEndpoint         string
	jwksURI               string
}

// DiscoveryMetadata exposes advertisement-only endpoints learned via OIDC
// discovery. Used by the transport to populate well-known documents.
type DiscoveryMetadata interface {
	AuthorizationEndpoint() string
	TokenEndpoint() string
	JWKSURI() string
}

func (a *discoveryAuthenticator) AuthorizationEndpoint() string { return a.authorizationEndpoint }
func (a *discoveryAuthenticator) TokenEndpoint() string         { return a.tokenEndpoint }
func (a *discoveryAuthenticator) JWKSURI() string               { return a.jwksURI }

// NewFromDiscovery performs OIDC discovery to obtain jwks_uri and issuer, and
// constructs an Authenticator enforcing the policies in cfg. JWKS keys are
// auto-refreshed.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*discoveryAuthenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer        string `json:"issuer"`
		JwksURI       string `json:"jwks_uri"`
		Authorization string `json:"authorization_endpoint"`
		Token         string `json:"token_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &discoveryAuthenticator{
		cfg:                   cfg,
		iss:                   normalizeIssuer(meta.Issuer),
		keyfunc:               guardedKeyfunc(cfg.AllowedAlgs, kf.Keyfunc),
		authorizationEndpoint: meta.Authorization,
		tokenEndpoint:         meta.Token,
		jwksURI:               meta.JwksURI,
	}, nil
}

// guardedKeyfunc wraps a JWKS keyfunc with an algorithm allow-list check.
func guardedKeyfunc(allowedAlgs []string, inner jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		for _, a := range allowedAlgs {
			if alg == a {
				return inner(t)
			}
		}
		return nil, fmt.Errorf("disallowed alg: %s", alg)
	}
}

func (a *discoveryAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	return checkToken(tok, a.cfg, a.iss, a.keyfunc)
}

// checkToken is the shared validation path for discovery and static
// authenticators. Issuer comparison happens against the normalized form.
func checkToken(tok string, cfg *Config, iss string, kf jwt.Keyfunc) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, kf)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}

	tokIss, _ := claims["iss"].(string)
	if tokIss == "" || normalizeIssuer(tokIss) != iss {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
	}
	if len(cfg.ExpectedAudiences) > 0 && !audIntersects(claims["aud"], cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	if len(cfg.RequiredScopes) > 0 {
		scopeStr, _ := claims["scope"].(string)
		have := map[string]bool{}
		for _, s := range strings.Fields(scopeStr) {
			have[s] = true
		}
		if cfg.ScopeModeAny {
			ok := false
			for _, want := range cfg.RequiredScopes {
				if have[want] {
					ok = true
					break
				}
			}
			if !ok {
				return nil, ErrInsufficientScope
			}
		} else {
			for _, want := range cfg.RequiredScopes {
				if !have[want] {
					return nil, ErrInsufficientScope
				}
			}
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	return &userInfo{sub: sub, claims: claims}, nil
}

// audIntersects reports whether the aud claim (string or array) names any of
// the expected audiences.
func audIntersects(aud any, wants []string) bool {
	wantSet := map[string]struct{}{}
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, hit := wantSet[s]; hit {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, hit := wantSet[s]; hit {
				return true
			}
		}
	}
	return false
}
