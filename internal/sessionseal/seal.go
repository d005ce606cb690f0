// Package sessionseal makes session ids tamper-evident. The id handed to a
// client is a compact Ed25519 JWS over the registry id and the owning user,
// so a stolen or forged header value cannot be replayed against another
// principal without failing verification.
package sessionseal

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// Sealer signs and verifies opaque session identifiers.
type Sealer interface {
	// Seal returns the wire form of a session id bound to userID.
	Seal(sessionID, userID string) (string, error)
	// Open verifies a wire session id and returns the registry id and the
	// bound user. Any verification failure returns an error; the caller treats
	// it as session-not-found.
	Open(token string) (sessionID, userID string, err error)
}

type payload struct {
	SID string `json:"sid"`
	Sub string `json:"sub"`
}

// KeyedSealer is a Sealer over a fixed set of Ed25519 keys with one active
// signing key, allowing rotation without invalidating live sessions.
type KeyedSealer struct {
	activeKid string
	privKeys  map[string]ed25519.PrivateKey
	pubKeys   map[string]ed25519.PublicKey
}

var _ Sealer = (*KeyedSealer)(nil)

func NewKeyed() *KeyedSealer {
	return &KeyedSealer{
		privKeys: make(map[string]ed25519.PrivateKey),
		pubKeys:  make(map[string]ed25519.PublicKey),
	}
}

// NewRandom builds a sealer with a single freshly generated key. Sessions do
// not survive process restart under a random key, which matches the in-memory
// registry's lifetime.
func NewRandom() (*KeyedSealer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	s := NewKeyed()
	s.AddKey("k1", priv)
	if err := s.SetActive("k1"); err != nil {
		return nil, err
	}
	return s, nil
}

// AddKey registers a key pair under kid. The active key is unchanged.
func (s *KeyedSealer) AddKey(kid string, priv ed25519.PrivateKey) {
	s.privKeys[kid] = priv
	s.pubKeys[kid] = priv.Public().(ed25519.PublicKey)
}

// SetActive selects the key used for signing.
func (s *KeyedSealer) SetActive(kid string) error {
	if _, ok := s.privKeys[kid]; !ok {
		return fmt.Errorf("unknown kid: %s", kid)
	}
	s.activeKid = kid
	return nil
}

func (s *KeyedSealer) Seal(sessionID, userID string) (string, error) {
	if s.activeKid == "" {
		return "", fmt.Errorf("no active kid configured")
	}
	priv := s.privKeys[s.activeKid]
	b, err := json.Marshal(payload{SID: sessionID, Sub: userID})
	if err != nil {
		return "", fmt.Errorf("marshal seal payload: %w", err)
	}
	opts := (&jose.SignerOptions{}).WithHeader("kid", s.activeKid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}
	jws, err := signer.Sign(b)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serialize jws: %w", err)
	}
	return compact, nil
}

func (s *KeyedSealer) Open(token string) (string, string, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return "", "", fmt.Errorf("parse jws: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return "", "", fmt.Errorf("unexpected signature count: %d", len(jws.Signatures))
	}
	kid := jws.Signatures[0].Protected.KeyID
	pub, ok := s.pubKeys[kid]
	if !ok {
		return "", "", fmt.Errorf("unknown kid: %s", kid)
	}
	raw, err := jws.Verify(pub)
	if err != nil {
		return "", "", fmt.Errorf("signature verification failed: %w", err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", "", fmt.Errorf("unmarshal seal payload: %w", err)
	}
	if p.SID == "" {
		return "", "", fmt.Errorf("seal payload missing sid")
	}
	return p.SID, p.Sub, nil
}
