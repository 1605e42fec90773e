package id

import (
	"fmt"
	"math/big"
	"strings"

	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/shopspring/decimal"
)

// NormalizeAmount accepts exactly one of a base-unit integer or a decimal amount and
// returns the base-unit value with its decimal rendering.
func NormalizeAmount(baseUnits, decimalAmount string, decimals uint8) (*big.Int, string, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	decimalAmount = strings.TrimSpace(decimalAmount)
	if baseUnits != "" && decimalAmount != "" {
		return nil, "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimalAmount == "" {
		return nil, "", clierr.New(clierr.CodeUsage, "amount is required")
	}

	if baseUnits != "" {
		value, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok {
			return nil, "", clierr.New(clierr.CodeUsage, "--amount must be an integer in base units")
		}
		if value.Sign() <= 0 {
			return nil, "", clierr.New(clierr.CodeUsage, "--amount must be positive")
		}
		return value, FormatUnits(value, decimals), nil
	}

	d, err := decimal.NewFromString(decimalAmount)
	if err != nil {
		return nil, "", clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	if d.Sign() <= 0 {
		return nil, "", clierr.New(clierr.CodeUsage, "--amount-decimal must be positive")
	}
	if -d.Exponent() > int32(decimals) {
		return nil, "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	base := d.Shift(int32(decimals))
	return base.BigInt(), d.String(), nil
}

// FormatUnits renders a base-unit integer as a decimal string without trailing zeros.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// ParseSlippage parses a fractional tolerance such as "0.005" and rejects values outside
// [0, 1).
func ParseSlippage(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid slippage %q", raw))
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, clierr.New(clierr.CodeUsage, "slippage must be in [0, 1)")
	}
	return d, nil
}
