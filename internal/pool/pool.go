package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/chain"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeTiers are probed in this order, first with (in, out) then with (out, in).
var FeeTiers = []uint32{500, 3000, 10000}

var (
	factoryABI = registry.MustABI(registry.UniswapV3FactoryABI)
	poolABI    = registry.MustABI(registry.UniswapV3PoolABI)
)

// Pool is a located pool with its state at the latest block.
type Pool struct {
	Address      common.Address `json:"address"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Fee          uint32         `json:"fee"`
	Liquidity    *big.Int       `json:"liquidity,omitempty"`
	SqrtPriceX96 *big.Int       `json:"sqrt_price_x96,omitempty"`
	Tick         int32          `json:"tick"`
}

// Probe is one factory lookup.
type Probe struct {
	TokenA common.Address
	TokenB common.Address
	Fee    uint32
}

// Probes lists the six lookups Find performs, in order.
func Probes(in, out common.Address) []Probe {
	probes := make([]Probe, 0, 2*len(FeeTiers))
	for _, fee := range FeeTiers {
		probes = append(probes, Probe{TokenA: in, TokenB: out, Fee: fee})
	}
	for _, fee := range FeeTiers {
		probes = append(probes, Probe{TokenA: out, TokenB: in, Fee: fee})
	}
	return probes
}

type Locator struct {
	caller  chain.Caller
	factory common.Address
	log     *zap.Logger
}

func NewLocator(caller chain.Caller, factory common.Address, log *zap.Logger) *Locator {
	return &Locator{caller: caller, factory: factory, log: logging.OrNop(log)}
}

// Find returns the first non-zero pool address over Probes(in, out). Liquidity is not
// compared between tiers.
func (l *Locator) Find(ctx context.Context, in, out common.Address) (Pool, error) {
	for _, p := range Probes(in, out) {
		values, err := chain.Call(ctx, l.caller, factoryABI, common.Address{}, l.factory, "getPool",
			p.TokenA, p.TokenB, new(big.Int).SetUint64(uint64(p.Fee)))
		if err != nil {
			l.log.Error("getPool failed", zap.String("factory", l.factory.Hex()), zap.Uint32("fee", p.Fee), zap.Error(err))
			return Pool{}, clierr.Wrap(clierr.CodeUnavailable, "factory getPool", err).WithRevert(chain.DecodeRevert(err))
		}
		addr, err := chain.AsAddress(values[0])
		if err != nil {
			return Pool{}, clierr.Wrap(clierr.CodeInternal, "decode getPool", err)
		}
		if addr == (common.Address{}) {
			l.log.Debug("no pool at tier", zap.String("token_a", p.TokenA.Hex()), zap.String("token_b", p.TokenB.Hex()), zap.Uint32("fee", p.Fee))
			continue
		}
		l.log.Info("pool found", zap.String("pool", addr.Hex()), zap.Uint32("fee", p.Fee))
		return Pool{Address: addr, Fee: p.Fee}, nil
	}
	return Pool{}, clierr.New(clierr.CodeNoPoolFound,
		fmt.Sprintf("no pool for %s/%s in fee tiers %v", in.Hex(), out.Hex(), FeeTiers))
}

// ReadState fills tokens, fee, liquidity and slot0 of a located pool. Zero liquidity is
// logged as a warning and not treated as an error.
func (l *Locator) ReadState(ctx context.Context, p Pool) (Pool, error) {
	call := func(method string) ([]any, error) {
		values, err := chain.Call(ctx, l.caller, poolABI, common.Address{}, p.Address, method)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("read pool %s", method), err)
		}
		return values, nil
	}

	values, err := call("token0")
	if err != nil {
		return Pool{}, err
	}
	if p.Token0, err = chain.AsAddress(values[0]); err != nil {
		return Pool{}, clierr.Wrap(clierr.CodeInternal, "decode token0", err)
	}
	if values, err = call("token1"); err != nil {
		return Pool{}, err
	}
	if p.Token1, err = chain.AsAddress(values[0]); err != nil {
		return Pool{}, clierr.Wrap(clierr.CodeInternal, "decode token1", err)
	}
	if values, err = call("fee"); err != nil {
		return Pool{}, err
	}
	fee, err := chain.AsBigInt(values[0])
	if err != nil {
		return Pool{}, clierr.Wrap(clierr.CodeInternal, "decode fee", err)
	}
	p.Fee = uint32(fee.Uint64())
	if values, err = call("liquidity"); err != nil {
		return Pool{}, err
	}
	if p.Liquidity, err = chain.AsBigInt(values[0]); err != nil {
		return Pool{}, clierr.Wrap(clierr.CodeInternal, "decode liquidity", err)
	}
	if values, err = call("slot0"); err != nil {
		return Pool{}, err
	}
	if p.SqrtPriceX96, err = chain.AsBigInt(values[0]); err != nil {
		return Pool{}, clierr.Wrap(clierr.CodeInternal, "decode sqrtPriceX96", err)
	}
	tick, err := chain.AsBigInt(values[1])
	if err != nil {
		return Pool{}, clierr.Wrap(clierr.CodeInternal, "decode tick", err)
	}
	p.Tick = int32(tick.Int64())

	if p.Liquidity.Sign() == 0 {
		l.log.Warn("pool has zero liquidity", zap.String("pool", p.Address.Hex()), zap.Uint32("fee", p.Fee))
	}
	return p, nil
}

// Price1Per0 converts sqrtPriceX96 to the human price of token0 in units of token1.
func Price1Per0(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) decimal.Decimal {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return decimal.Zero
	}
	num := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	den := new(big.Int).Lsh(big.NewInt(1), 192)
	price := decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(den, 0), 36)
	return price.Shift(int32(decimals0) - int32(decimals1)).Round(18)
}

// Invert returns 1/price rounded to 18 places.
func Invert(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(price, 18)
}
