package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// SeedSize is the length of an ed25519 seed.
const SeedSize = ed25519.SeedSize

// ErrInvalidSeed is returned when a seed is not SeedSize bytes.
var ErrInvalidSeed = errors.New("invalid seed length")

// Signer signs messages with a private key.
type Signer interface {
	// Sign produces a detached ed25519 signature over message.
	Sign(message []byte) ([]byte, error)
	// PublicKey returns the 32-byte public key.
	PublicKey() []byte
}

// Verifier verifies ed25519 signatures.
type Verifier interface {
	Verify(message, signature, publicKey []byte) bool
}

// SignFunc is a one-shot signing capability. Callers hand it to code that
// must sign without ever seeing the key or the passphrase.
type SignFunc func(message []byte) ([]byte, error)

// KeyPair is an ed25519 key pair derived from a 32-byte seed.
type KeyPair struct {
	priv ed25519.PrivateKey
}

// KeyPairFromSeed deterministically derives a key pair. The seed is copied;
// the caller stays responsible for zeroing its own buffer.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSeed, SeedSize, len(seed))
	}
	return &KeyPair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Sign produces a 64-byte signature over message.
func (k *KeyPair) Sign(message []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, errors.New("key pair has been zeroed")
	}
	return ed25519.Sign(k.priv, message), nil
}

// PublicKey returns a copy of the 32-byte public key.
func (k *KeyPair) PublicKey() []byte {
	if len(k.priv) != ed25519.PrivateKeySize {
		return nil
	}
	pub := make([]byte, ed25519.PublicKeySize)
	copy(pub, k.priv[ed25519.SeedSize:])
	return pub
}

// Zero wipes the private key. The key pair is unusable afterwards.
func (k *KeyPair) Zero() {
	clear(k.priv)
	k.priv = nil
}

// VerifySignature checks an ed25519 signature. Returns false on any
// malformed input.
func VerifySignature(message, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// Ed25519Verifier implements the Verifier interface.
type Ed25519Verifier struct{}

// Verify checks an ed25519 signature against a message and public key.
func (v Ed25519Verifier) Verify(message, signature, publicKey []byte) bool {
	return VerifySignature(message, signature, publicKey)
}
