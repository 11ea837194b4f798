package wallet

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicWords is the length of a seed backup phrase.
const MnemonicWords = 24

// ValidateMnemonic checks if a mnemonic is valid per BIP-39
// (correct word count, valid words, valid checksum).
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic recovers the 32-byte account seed from its 24-word
// backup phrase. The phrase encodes the seed directly as BIP-39 entropy;
// it is not stretched through the BIP-39 PBKDF2 seed function.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if n := len(strings.Fields(mnemonic)); n != MnemonicWords {
		return nil, fmt.Errorf("mnemonic must have %d words, got %d", MnemonicWords, n)
	}
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	if len(entropy) != SeedSize {
		return nil, fmt.Errorf("mnemonic encodes %d bytes, want %d", len(entropy), SeedSize)
	}
	return entropy, nil
}
