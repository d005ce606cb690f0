package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

type mockOIDC struct {
	srv    *httptest.Server
	issuer string
}

func newMockOIDC(t *testing.T, keysJSON []byte) *mockOIDC {
	t.Helper()
	m := &mockOIDC{}
	handler := http.NewServeMux()
	handler.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{
			"issuer":                 m.issuer,
			"jwks_uri":               m.issuer + "/keys",
			"authorization_endpoint": m.issuer + "/oauth2/auth",
			"token_endpoint":         m.issuer + "/oauth2/token",
		}
		_ = json.NewEncoder(w).Encode(meta)
	})
	handler.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(handler)
	m.issuer = m.srv.URL
	return m
}

func (m *mockOIDC) Close() { m.srv.Close() }

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func baseClaims(issuer, aud, sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": issuer,
		"aud": aud,
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
}

func TestDiscoveryAuthenticator(t *testing.T) {
	ctx := context.Background()
	pk, kid, keys := genRSA(t)
	idp := newMockOIDC(t, keys)
	defer idp.Close()

	aud := "https://feeds.example.com/rpc"
	cfg := DefaultConfig()
	cfg.Issuer = idp.issuer
	cfg.ExpectedAudiences = []string{aud}

	a, err := NewFromDiscovery(ctx, cfg)
	if err != nil {
		t.Fatalf("NewFromDiscovery: %v", err)
	}

	t.Run("valid token accepted", func(t *testing.T) {
		tok := signToken(t, pk, kid, baseClaims(idp.issuer, aud, "user-1"))
		ui, err := a.CheckAuthentication(ctx, tok)
		if err != nil {
			t.Fatalf("CheckAuthentication: %v", err)
		}
		if got := ui.UserID(); got != "user-1" {
			t.Errorf("UserID = %q, want user-1", got)
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		claims := baseClaims(idp.issuer, aud, "user-1")
		claims["exp"] = time.Now().Add(-1 * time.Minute).Unix()
		tok := signToken(t, pk, kid, claims)
		if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("audience mismatch rejected", func(t *testing.T) {
		tok := signToken(t, pk, kid, baseClaims(idp.issuer, "https://other.example.com", "user-1"))
		if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("audience array membership accepted", func(t *testing.T) {
		claims := baseClaims(idp.issuer, "", "user-1")
		claims["aud"] = []string{"https://other.example.com", aud}
		tok := signToken(t, pk, kid, claims)
		if _, err := a.CheckAuthentication(ctx, tok); err != nil {
			t.Fatalf("CheckAuthentication: %v", err)
		}
	})

	t.Run("issuer trailing slash normalized", func(t *testing.T) {
		tok := signToken(t, pk, kid, baseClaims(idp.issuer+"/", aud, "user-1"))
		if _, err := a.CheckAuthentication(ctx, tok); err != nil {
			t.Fatalf("CheckAuthentication: %v", err)
		}
	})

	t.Run("missing exp rejected", func(t *testing.T) {
		claims := baseClaims(idp.issuer, aud, "user-1")
		delete(claims, "exp")
		tok := signToken(t, pk, kid, claims)
		if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("missing sub rejected", func(t *testing.T) {
		claims := baseClaims(idp.issuer, aud, "")
		tok := signToken(t, pk, kid, claims)
		if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		if _, err := a.CheckAuthentication(ctx, "not.a.jwt"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})
}

func TestStaticAuthenticatorScopes(t *testing.T) {
	ctx := context.Background()
	pk, kid, keys := genRSA(t)
	idp := newMockOIDC(t, keys)
	defer idp.Close()

	aud := "https://feeds.example.com/rpc"
	cfg := DefaultConfig()
	cfg.Issuer = idp.issuer
	cfg.ExpectedAudiences = []string{aud}
	cfg.RequiredScopes = []string{"feeds.read", "accounts.read"}

	a, err := NewStatic(ctx, cfg, idp.issuer+"/keys")
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	t.Run("all scopes present", func(t *testing.T) {
		claims := baseClaims(idp.issuer, aud, "user-1")
		claims["scope"] = "feeds.read accounts.read extra"
		tok := signToken(t, pk, kid, claims)
		if _, err := a.CheckAuthentication(ctx, tok); err != nil {
			t.Fatalf("CheckAuthentication: %v", err)
		}
	})

	t.Run("missing scope rejected", func(t *testing.T) {
		claims := baseClaims(idp.issuer, aud, "user-1")
		claims["scope"] = "feeds.read"
		tok := signToken(t, pk, kid, claims)
		if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, ErrInsufficientScope) {
			t.Fatalf("want ErrInsufficientScope, got %v", err)
		}
	})
}
