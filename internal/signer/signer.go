// Package signer implements wallet key generation and challenge signing with
// NaCl (Ed25519) keys encoded in base58.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/sign"
)

// ErrInvalidKey is returned when a secret key does not decode to a 64-byte
// NaCl signing key.
var ErrInvalidKey = errors.New("invalid secret key")

// NaCl signs with base58-encoded 64-byte NaCl secret keys and produces
// base58-encoded detached signatures.
//
// The zero value uses crypto/rand for key generation.
type NaCl struct {
	// Rand is the entropy source for Generate. Nil means crypto/rand.
	Rand io.Reader
}

// New returns a [NaCl] backed by crypto/rand.
func New() *NaCl {
	return &NaCl{}
}

// Generate creates a key pair and returns the base58 public key (the
// wallet's public identifier) and base58 secret key.
func (n *NaCl) Generate() (publicID, secretKey string, err error) {
	r := n.Rand
	if r == nil {
		r = rand.Reader
	}

	pub, priv, err := sign.GenerateKey(r)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	return base58.Encode(pub[:]), base58.Encode(priv[:]), nil
}

// Sign returns the base58-encoded detached signature of message.
func (n *NaCl) Sign(secretKey, message string) (string, error) {
	priv, err := decodeSecretKey(secretKey)
	if err != nil {
		return "", err
	}

	// sign.Sign prepends the 64-byte signature to the message
	signed := sign.Sign(nil, []byte(message), priv)
	return base58.Encode(signed[:ed25519.SignatureSize]), nil
}

// PublicID derives the base58 public key from a secret key.
func PublicID(secretKey string) (string, error) {
	priv, err := decodeSecretKey(secretKey)
	if err != nil {
		return "", err
	}
	// NaCl secret keys carry the public key in their second half
	return base58.Encode(priv[32:]), nil
}

// Verify reports whether signature is a valid detached signature of message
// under the base58 public key publicID.
func Verify(publicID, message, signature string) bool {
	pub, err := base58.Decode(publicID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}

	var pk [32]byte
	copy(pk[:], pub)
	signed := append(sig, message...)
	_, ok := sign.Open(nil, signed, &pk)
	return ok
}

func decodeSecretKey(secretKey string) (*[64]byte, error) {
	raw, err := base58.Decode(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), ed25519.PrivateKeySize)
	}

	var priv [64]byte
	copy(priv[:], raw)
	return &priv, nil
}
