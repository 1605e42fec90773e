package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ggonzalez94/v3swap/internal/chain"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/shopspring/decimal"
)

var defaultTipCap = big.NewInt(2_000_000_000)

func resolveTipCap(ctx context.Context, backend chain.Backend, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := backend.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		return new(big.Int).Set(defaultTipCap), nil
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("value must be non-negative")
	}
	wei := d.Shift(9)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return wei.BigInt(), nil
}
