package sessionseal

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
)

func TestSealRoundTrip(t *testing.T) {
	s, err := NewRandom()
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}

	tok, err := s.Seal("abc-123", "user-1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	sid, sub, err := s.Open(tok)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sid != "abc-123" || sub != "user-1" {
		t.Fatalf("Open = (%q, %q), want (abc-123, user-1)", sid, sub)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	s, err := NewRandom()
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}
	tok, err := s.Seal("abc-123", "user-1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Flip a character in the signature segment.
	parts := strings.Split(tok, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)
	if _, _, err := s.Open(strings.Join(parts, ".")); err == nil {
		t.Fatal("tampered token verified")
	}
}

func TestForeignKeyRejected(t *testing.T) {
	s1, err := NewRandom()
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}
	s2, err := NewRandom()
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}
	tok, err := s1.Seal("abc-123", "user-1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, _, err := s2.Open(tok); err == nil {
		t.Fatal("token sealed by another key verified")
	}
}

func TestKeyRotation(t *testing.T) {
	s := NewKeyed()
	for _, kid := range []string{"old", "new"} {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		s.AddKey(kid, priv)
	}
	if err := s.SetActive("old"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	tok, err := s.Seal("abc-123", "user-1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Rotating the active key must not invalidate ids sealed under "old".
	if err := s.SetActive("new"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	sid, _, err := s.Open(tok)
	if err != nil {
		t.Fatalf("Open after rotation: %v", err)
	}
	if sid != "abc-123" {
		t.Fatalf("sid = %q, want abc-123", sid)
	}
}
