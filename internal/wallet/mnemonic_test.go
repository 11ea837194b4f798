package wallet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tyler-smith/go-bip39"
)

func TestValidateMnemonic(t *testing.T) {
	valid := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	if !ValidateMnemonic(valid) {
		t.Error("known-good mnemonic rejected")
	}
	if ValidateMnemonic("abandon abandon abandon") {
		t.Error("short mnemonic accepted")
	}
}

func TestSeedFromMnemonic_Roundtrip(t *testing.T) {
	seed := bytes.Repeat([]byte{0x5a}, SeedSize)
	m, err := bip39.NewMnemonic(seed)
	if err != nil {
		t.Fatalf("NewMnemonic: %v", err)
	}
	if n := len(strings.Fields(m)); n != MnemonicWords {
		t.Fatalf("word count = %d, want %d", n, MnemonicWords)
	}

	// Extra whitespace is tolerated.
	got, err := SeedFromMnemonic("  " + strings.ReplaceAll(m, " ", "   ") + "\n")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	if !bytes.Equal(got, seed) {
		t.Error("recovered seed mismatch")
	}
}

func TestSeedFromMnemonic_Invalid(t *testing.T) {
	twelve := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	if _, err := SeedFromMnemonic(twelve); err == nil {
		t.Error("12-word mnemonic should be rejected")
	}

	words := strings.Fields(strings.Repeat("abandon ", 24))
	if _, err := SeedFromMnemonic(strings.Join(words, " ")); err == nil {
		t.Error("bad checksum should be rejected")
	}
}
