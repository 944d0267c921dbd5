// internal/token/amount.go
package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// NativeDecimals is the decimal precision of SOL (1 SOL = 1e9 lamports).
	NativeDecimals uint8 = 9
	// DefaultDecimals is assumed when mint metadata cannot be read.
	DefaultDecimals uint8 = 6
)

// ValidateAmount checks that ui parses as a positive decimal. It needs no
// mint metadata, so callers can reject malformed amounts before any chain
// lookups.
func ValidateAmount(ui string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(ui))
	if err != nil {
		return fmt.Errorf("invalid amount: %s", ui)
	}
	if d.Sign() <= 0 {
		return fmt.Errorf("invalid amount: %s (must be positive)", ui)
	}
	return nil
}

// ToBaseUnits converts a human-readable decimal string into integer base
// units. Rounding is half away from zero and applied exactly once; the raw
// amount is never re-derived from a previously rounded value.
func ToBaseUnits(ui string, decimals uint8) (uint64, error) {
	trimmed := strings.TrimSpace(ui)
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %s", ui)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("invalid amount: %s (must be positive)", ui)
	}

	raw := d.Shift(int32(decimals)).Round(0)
	bi := raw.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("invalid amount: %s (exceeds maximum base units)", ui)
	}
	return bi.Uint64(), nil
}

// FromBaseUnits renders base units as a human-readable decimal string. For
// reporting only; never fed back into ToBaseUnits.
func FromBaseUnits(raw uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals)).String()
}
