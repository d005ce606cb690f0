package auth

import "context"

// anonymous is the principal produced when authorization is administratively
// disabled. It carries no claims.
type anonymous struct{}

func (anonymous) UserID() string       { return "anonymous" }
func (anonymous) Claims(ref any) error { return nil }

type disabledAuthenticator struct{}

func (disabledAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	return anonymous{}, nil
}

func (disabledAuthenticator) AllowsAnonymous() bool { return true }

// AnonymousCapable is an optional interface an Authenticator may implement to
// signal that requests without any credential should still be admitted. The
// transport checks for it before demanding an Authorization header.
type AnonymousCapable interface {
	AllowsAnonymous() bool
}

// NewDisabled returns an Authenticator that accepts every request, with or
// without a credential, and yields an anonymous principal. Intended for local
// development and deployments that terminate authorization upstream.
func NewDisabled() Authenticator {
	return disabledAuthenticator{}
}
