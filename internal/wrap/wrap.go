package wrap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"go.uber.org/zap"
)

var weth9ABI = registry.MustABI(registry.WETH9ABI)

// Sender submits a transaction and waits for it to be mined.
type Sender interface {
	Send(ctx context.Context, req execution.TxRequest) (*execution.Receipt, error)
}

// Wrapper converts native currency to and from WETH9.
type Wrapper struct {
	weth   common.Address
	sender Sender
	log    *zap.Logger
}

func New(weth common.Address, sender Sender, log *zap.Logger) *Wrapper {
	return &Wrapper{weth: weth, sender: sender, log: logging.OrNop(log)}
}

// Wrap calls deposit() with value = amount.
func (w *Wrapper) Wrap(ctx context.Context, amount *big.Int) (*execution.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "wrap amount must be positive")
	}
	data, err := weth9ABI.Pack("deposit")
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack deposit", err)
	}
	w.log.Info("wrapping native currency", zap.String("weth", w.weth.Hex()), zap.String("amount", amount.String()))
	return w.sender.Send(ctx, execution.TxRequest{
		Label: "wrap",
		Kind:  clierr.CodeWrapFailed,
		To:    w.weth,
		Data:  data,
		Value: new(big.Int).Set(amount),
	})
}

// Unwrap calls withdraw(amount).
func (w *Wrapper) Unwrap(ctx context.Context, amount *big.Int) (*execution.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "unwrap amount must be positive")
	}
	data, err := weth9ABI.Pack("withdraw", amount)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack withdraw", err)
	}
	w.log.Info("unwrapping", zap.String("weth", w.weth.Hex()), zap.String("amount", amount.String()))
	return w.sender.Send(ctx, execution.TxRequest{
		Label: "unwrap",
		Kind:  clierr.CodeWrapFailed,
		To:    w.weth,
		Data:  data,
	})
}

// Shortfall returns how much must be wrapped for balance to cover required.
func Shortfall(balance, required *big.Int) *big.Int {
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Cmp(required) >= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(required, balance)
}
