package balance

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/chain"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/id"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"github.com/ggonzalez94/v3swap/internal/token"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const nativeDecimals = 18

var erc20ABI = registry.MustABI(registry.ERC20ABI)

// Reader is the chain surface needed for balance reads.
type Reader interface {
	chain.Caller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Amount struct {
	BaseUnits *big.Int `json:"base_units"`
	Decimal   string   `json:"decimal"`
}

func newAmount(v *big.Int, decimals uint8) Amount {
	return Amount{BaseUnits: v, Decimal: id.FormatUnits(v, decimals)}
}

type TokenBalance struct {
	Token token.Token `json:"token"`
	Amount
}

// Snapshot is the native and token holdings of a wallet at one point of a run.
type Snapshot struct {
	Wallet common.Address `json:"wallet"`
	Native Amount         `json:"native"`
	Tokens []TokenBalance `json:"tokens"`
}

// Of returns the balance of addr, or zero when the token is not part of the snapshot.
func (s Snapshot) Of(addr common.Address) *big.Int {
	for _, tb := range s.Tokens {
		if tb.Token.Address == addr && tb.BaseUnits != nil {
			return tb.BaseUnits
		}
	}
	return big.NewInt(0)
}

type Reporter struct {
	reader Reader
	log    *zap.Logger
}

func NewReporter(reader Reader, log *zap.Logger) *Reporter {
	return &Reporter{reader: reader, log: logging.OrNop(log)}
}

// TokenBalance reads balanceOf(wallet) on tok.
func (r *Reporter) TokenBalance(ctx context.Context, tok common.Address, wallet common.Address) (*big.Int, error) {
	values, err := chain.Call(ctx, r.reader, erc20ABI, wallet, tok, "balanceOf", wallet)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("read balance of %s", tok.Hex()), err)
	}
	return chain.AsBigInt(values[0])
}

// Snapshot reads the native balance and every token balance concurrently. All read errors
// are combined into the returned error.
func (r *Reporter) Snapshot(ctx context.Context, label string, wallet common.Address, tokens ...token.Token) (Snapshot, error) {
	snap := Snapshot{Wallet: wallet, Tokens: make([]TokenBalance, len(tokens))}
	errs := make([]error, len(tokens)+1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := r.reader.BalanceAt(ctx, wallet, nil)
		if err != nil {
			errs[0] = fmt.Errorf("native balance: %w", err)
			return
		}
		snap.Native = newAmount(v, nativeDecimals)
	}()
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok token.Token) {
			defer wg.Done()
			v, err := r.TokenBalance(ctx, tok.Address, wallet)
			if err != nil {
				errs[i+1] = fmt.Errorf("%s balance: %w", tok, err)
				return
			}
			snap.Tokens[i] = TokenBalance{Token: tok, Amount: newAmount(v, tok.Decimals)}
		}(i, tok)
	}
	wg.Wait()

	if err := multierr.Combine(errs...); err != nil {
		r.log.Error("balance snapshot failed", zap.String("stage", label), zap.String("wallet", wallet.Hex()), zap.Error(err))
		return Snapshot{}, clierr.Wrap(clierr.CodeUnavailable, "read balances", err)
	}

	fields := []zap.Field{
		zap.String("stage", label),
		zap.String("wallet", wallet.Hex()),
		zap.String("native", snap.Native.Decimal),
	}
	for _, tb := range snap.Tokens {
		fields = append(fields, zap.String(tb.Token.String(), tb.Decimal))
	}
	r.log.Info("balances", fields...)
	return snap, nil
}
