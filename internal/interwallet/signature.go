package interwallet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
)

// Signer produces and verifies HMAC-SHA256 signatures over canonically
// serialized payloads shared with remote wallet systems.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer over the shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// canonicalize renders a payload with stable key order so that both sides
// of the protocol sign identical bytes. The signature field itself is
// never part of the signed payload.
func canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	// Round-trip through a map: encoding/json writes map keys sorted.
	var m map[string]any
	if err = json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	delete(m, "signature")

	canonical, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize canonical payload: %w", err)
	}
	return canonical, nil
}

// Sign returns the hex-encoded HMAC-SHA256 of the canonical payload.
func (s *Signer) Sign(payload any) (string, error) {
	canonical, err := canonicalize(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature over the presented payload and compares
// it in constant time. A signature of the wrong length is an explicit
// error, not a silent mismatch.
func (s *Signer) Verify(payload any, signature string) error {
	expected, err := s.Sign(payload)
	if err != nil {
		return err
	}

	if len(signature) != len(expected) {
		return ports.ErrSignatureLength
	}
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ports.ErrSignatureInvalid
	}
	return nil
}
