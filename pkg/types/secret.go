package types

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// SecretSeedSize is the length of an account seed in bytes.
const SecretSeedSize = 32

// secretSuffix turns an address HRP into the HRP used for secret seeds,
// so a seed can never be mistaken for an address.
const secretSuffix = "sec"

// SecretHRP returns the secret-seed HRP paired with an address HRP.
func SecretHRP(addressHRP string) string {
	return addressHRP + secretSuffix
}

// EncodeSecretSeed renders a 32-byte seed as a bech32 string under the
// active network ("kgxsec1...").
func EncodeSecretSeed(seed []byte) (string, error) {
	if len(seed) != SecretSeedSize {
		return "", fmt.Errorf("seed must be %d bytes, got %d", SecretSeedSize, len(seed))
	}
	return bech32.EncodeFromBase256(SecretHRP(activeHRP), seed)
}

// DecodeSecretSeed parses a secret seed produced by EncodeSecretSeed. Seeds
// for either network are accepted.
func DecodeSecretSeed(s string) ([]byte, error) {
	hrp, data, err := bech32.DecodeToBase256(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid secret seed: %w", err)
	}
	if hrp != SecretHRP(MainnetHRP) && hrp != SecretHRP(TestnetHRP) {
		return nil, fmt.Errorf("unknown secret seed prefix %q", hrp)
	}
	if len(data) != SecretSeedSize {
		clear(data)
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SecretSeedSize, len(data))
	}
	return data, nil
}
