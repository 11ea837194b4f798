package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// AddressSize is the length of an address in bytes: a raw ed25519 public key.
const AddressSize = 32

// Address HRP (human-readable part) constants for bech32 encoding.
const (
	MainnetHRP = "kgx"
	TestnetHRP = "tkgx"
)

// activeHRP is the address HRP used by String() and MarshalJSON().
// Set once at startup via SetAddressHRP(). Default is mainnet.
var activeHRP = MainnetHRP

// SetAddressHRP sets the active address HRP (call once at startup).
func SetAddressHRP(hrp string) {
	activeHRP = hrp
}

// GetAddressHRP returns the currently active address HRP.
func GetAddressHRP() string {
	return activeHRP
}

// Address is the public identity of an account. It is the account's
// ed25519 public key and is never secret.
type Address [AddressSize]byte

// AddressFromPublicKey wraps a 32-byte ed25519 public key.
func AddressFromPublicKey(pub []byte) (Address, error) {
	if len(pub) != AddressSize {
		return Address{}, fmt.Errorf("public key must be %d bytes, got %d", AddressSize, len(pub))
	}
	var a Address
	copy(a[:], pub)
	return a, nil
}

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the bech32-encoded address (e.g. "kgx1...").
func (a Address) String() string {
	return a.Encode(activeHRP)
}

// Encode returns the bech32 encoding of the address under hrp.
func (a Address) Encode(hrp string) string {
	s, err := bech32.EncodeFromBase256(hrp, a[:])
	if err != nil {
		// Only reachable with a malformed HRP.
		return hrp + ":" + hex.EncodeToString(a[:])
	}
	return s
}

// Hex returns the raw hex-encoded address without prefix.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// MarshalJSON encodes the address as a bech32 string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a bech32 or raw hex string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a bech32 address ("kgx1...", "tkgx1...") or the raw
// 64-character hex form.
func ParseAddress(s string) (Address, error) {
	a, _, err := ParseAddressHRP(s)
	return a, err
}

// ParseAddressHRP is ParseAddress that also returns the network prefix.
// The hex form carries no prefix and yields "".
func ParseAddressHRP(s string) (Address, string, error) {
	if s == "" {
		return Address{}, "", fmt.Errorf("empty address")
	}

	if isHex(s, AddressSize*2) {
		a, err := HexToAddress(s)
		return a, "", err
	}

	hrp, data, err := bech32.DecodeToBase256(s)
	if err != nil {
		return Address{}, "", fmt.Errorf("invalid bech32 address: %w", err)
	}
	if hrp != MainnetHRP && hrp != TestnetHRP {
		return Address{}, "", fmt.Errorf("unknown address prefix %q", hrp)
	}
	a, err := AddressFromPublicKey(data)
	if err != nil {
		return Address{}, "", err
	}
	return a, hrp, nil
}

// HexToAddress converts a raw hex string to an Address.
// For user-facing input, use ParseAddress instead.
func HexToAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex: %w", err)
	}
	return AddressFromPublicKey(b)
}

// isHex returns true if s is exactly n hex characters.
func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	return strings.IndexFunc(s, func(c rune) bool {
		return !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F'))
	}) < 0
}
