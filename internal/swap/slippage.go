package swap

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// MinimumOut returns floor(quoted * (1 - slippage)), never below one base unit.
func MinimumOut(quoted *big.Int, slippage decimal.Decimal) *big.Int {
	if quoted == nil || quoted.Sign() <= 0 {
		return big.NewInt(1)
	}
	v := decimal.NewFromBigInt(quoted, 0).Mul(one.Sub(slippage)).Floor().BigInt()
	if v.Sign() <= 0 {
		return big.NewInt(1)
	}
	return v
}

// MaximumIn returns ceil(quoted * (1 + slippage)).
func MaximumIn(quoted *big.Int, slippage decimal.Decimal) *big.Int {
	if quoted == nil || quoted.Sign() <= 0 {
		return big.NewInt(0)
	}
	return decimal.NewFromBigInt(quoted, 0).Mul(one.Add(slippage)).Ceil().BigInt()
}
