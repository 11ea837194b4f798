package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Decimals is the number of fractional digits of the native asset.
const Decimals = 7

// Multiplier is the number of base units in one whole coin.
const Multiplier = 10_000_000

// Amount is a fixed-point quantity in base units (1 coin = Multiplier units).
type Amount int64

// ParseAmount converts a human decimal string such as "12.5" to base units.
// Signs are accepted so callers can reject non-positive values themselves.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)
	if parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return 0, fmt.Errorf("invalid amount")
	}

	var whole uint64
	if parts[0] != "" {
		var err error
		whole, err = strconv.ParseUint(parts[0], 10, 63)
		if err != nil {
			return 0, fmt.Errorf("invalid whole part: %w", err)
		}
	}

	var frac uint64
	if len(parts) == 2 && parts[1] != "" {
		fracStr := parts[1]
		if len(fracStr) > Decimals {
			return 0, fmt.Errorf("too many decimal places (max %d)", Decimals)
		}
		// Pad to Decimals digits.
		fracStr = fracStr + strings.Repeat("0", Decimals-len(fracStr))
		var err error
		frac, err = strconv.ParseUint(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fractional part: %w", err)
		}
	}

	// Check overflow.
	if whole > math.MaxInt64/Multiplier {
		return 0, fmt.Errorf("amount too large")
	}
	result := whole * Multiplier
	if result > math.MaxInt64-frac {
		return 0, fmt.Errorf("amount too large")
	}

	v := Amount(result + frac)
	if neg {
		v = -v
	}
	return v, nil
}

// String formats the amount with all Decimals fractional digits.
func (a Amount) String() string {
	sign := ""
	u := uint64(a)
	if a < 0 {
		sign = "-"
		u = uint64(-(a + 1)) + 1
	}
	return fmt.Sprintf("%s%d.%0*d", sign, u/Multiplier, Decimals, u%Multiplier)
}

// MarshalJSON encodes the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string or a bare integer of base units.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := ParseAmount(s)
		if err != nil {
			return err
		}
		*a = v
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid amount %s", data)
	}
	*a = Amount(n)
	return nil
}
