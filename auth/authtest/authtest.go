// Package authtest provides a static Authenticator for tests: a fixed map of
// accepted tokens to principals, no crypto involved.
package authtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/marketmux/marketmux/auth"
)

type staticUser struct {
	sub    string
	claims map[string]any
}

func (u *staticUser) UserID() string { return u.sub }
func (u *staticUser) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// StaticAuthenticator accepts exactly the tokens registered via AddToken.
// Safe for concurrent use.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]*staticUser
}

func New() *StaticAuthenticator {
	return &StaticAuthenticator{tokens: make(map[string]*staticUser)}
}

// AddToken registers tok as a valid credential for the given subject.
func (a *StaticAuthenticator) AddToken(tok, sub string, claims map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[tok] = &staticUser{sub: sub, claims: claims}
}

func (a *StaticAuthenticator) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	a.mu.RLock()
	u, ok := a.tokens[tok]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return u, nil
}
