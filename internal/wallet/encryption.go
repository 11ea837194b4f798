package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/walleterr"
)

// Encryption constants.
const (
	KeySize   = 32
	SaltSize  = 16
	SeedSize  = 32
	NonceSize = 24

	// maxKDFMemory caps Argon2 memory (in KiB) at 4 GiB. Validate rejects
	// larger budgets as HashingFailed; an allocation failure inside Argon2
	// is a fatal runtime error and cannot be recovered.
	maxKDFMemory = 4 * 1024 * 1024
)

// KDFParams holds Argon2id parameters. Records store the parameters they
// were sealed with, so the JSON names are part of the record format.
type KDFParams struct {
	Memory      uint32 `json:"m"` // in KiB
	Iterations  uint32 `json:"t"`
	Parallelism uint8  `json:"p"`
}

// InteractiveParams returns the "interactive" Argon2id cost: 2 passes over
// 64 MiB on one lane.
func InteractiveParams() KDFParams {
	return KDFParams{
		Memory:      64 * 1024,
		Iterations:  2,
		Parallelism: 1,
	}
}

// Validate reports whether Argon2 can run with p.
func (p KDFParams) Validate() error {
	switch {
	case p.Iterations < 1:
		return errors.New("kdf iterations must be at least 1")
	case p.Parallelism < 1:
		return errors.New("kdf parallelism must be at least 1")
	case p.Memory < 8*uint32(p.Parallelism):
		return fmt.Errorf("kdf memory must be at least %d KiB", 8*uint32(p.Parallelism))
	case p.Memory > maxKDFMemory:
		return fmt.Errorf("kdf memory exceeds %d KiB", maxKDFMemory)
	}
	return nil
}

// DeriveKey uses Argon2id to derive a 32-byte key from passphrase and salt.
// The caller must zero the returned key.
func DeriveKey(passphrase, salt []byte, params KDFParams) ([]byte, error) {
	if len(salt) == 0 {
		return nil, walleterr.New(walleterr.KindNoSalt, "derive key")
	}
	if err := params.Validate(); err != nil {
		return nil, walleterr.Wrap(walleterr.KindHashingFailed, "derive key", err)
	}
	defer log.Benchmark("argon2id")()

	return argon2.IDKey(
		passphrase,
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		KeySize,
	), nil
}

// SealSeed encrypts seed under key with XSalsa20-Poly1305 and a fresh
// random nonce. Output is hex(nonce || box).
func SealSeed(seed, key []byte, r io.Reader) (string, error) {
	if len(key) != KeySize {
		return "", walleterr.Wrap(walleterr.KindEncryptionFailed, "seal seed",
			fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	if len(seed) == 0 {
		return "", walleterr.New(walleterr.KindNoSeed, "seal seed")
	}

	var nonce [NonceSize]byte
	if _, err := io.ReadFull(reader(r), nonce[:]); err != nil {
		return "", walleterr.Wrap(walleterr.KindRandomnessUnavailable, "seal seed", err)
	}

	var k [KeySize]byte
	copy(k[:], key)
	defer clear(k[:])

	out := secretbox.Seal(nonce[:], seed, &nonce, &k)
	return hex.EncodeToString(out), nil
}

// OpenSeed reverses SealSeed. A wrong key and a corrupted box are
// indistinguishable and both report PassphraseIncorrect.
func OpenSeed(cipherHex string, key []byte) ([]byte, error) {
	raw, err := hex.DecodeString(cipherHex)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindDecodingFailed, "open seed", err)
	}
	if len(key) != KeySize {
		return nil, walleterr.Wrap(walleterr.KindPassphraseIncorrect, "open seed",
			fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	if len(raw) < NonceSize+secretbox.Overhead {
		return nil, walleterr.Wrap(walleterr.KindPassphraseIncorrect, "open seed",
			errors.New("sealed seed truncated"))
	}

	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])
	var k [KeySize]byte
	copy(k[:], key)
	defer clear(k[:])

	seed, ok := secretbox.Open(nil, raw[NonceSize:], &nonce, &k)
	if !ok {
		return nil, walleterr.New(walleterr.KindPassphraseIncorrect, "open seed")
	}
	return seed, nil
}

// RandomSeed reads a fresh 32-byte seed. A nil reader means crypto/rand.
func RandomSeed(r io.Reader) ([]byte, error) {
	return randomBytes(r, SeedSize, "random seed")
}

// RandomSalt reads a fresh 16-byte salt. A nil reader means crypto/rand.
func RandomSalt(r io.Reader) ([]byte, error) {
	return randomBytes(r, SaltSize, "random salt")
}

func randomBytes(r io.Reader, n int, op string) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(reader(r), b); err != nil {
		clear(b)
		return nil, walleterr.Wrap(walleterr.KindRandomnessUnavailable, op, err)
	}
	return b, nil
}

func reader(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}
