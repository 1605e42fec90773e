package approve

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/chain"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/id"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"github.com/ggonzalez94/v3swap/internal/token"
	"go.uber.org/zap"
)

var erc20ABI = registry.MustABI(registry.ERC20ABI)

type Sender interface {
	Send(ctx context.Context, req execution.TxRequest) (*execution.Receipt, error)
}

// Result describes what Ensure did.
type Result struct {
	Token             common.Address       `json:"token"`
	Spender           common.Address       `json:"spender"`
	Required          *big.Int             `json:"required"`
	PreviousAllowance *big.Int             `json:"previous_allowance"`
	Approved          bool                 `json:"approved"`
	Reset             bool                 `json:"reset"`
	Receipts          []*execution.Receipt `json:"receipts,omitempty"`
}

// Approver makes sure a spender may pull a required amount from the wallet.
type Approver struct {
	caller     chain.Caller
	sender     Sender
	resetFirst bool
	log        *zap.Logger
}

// New returns an Approver. With resetFirst, a non-zero but insufficient allowance is set to
// zero before the new amount is approved (required by USDT-style tokens).
func New(caller chain.Caller, sender Sender, resetFirst bool, log *zap.Logger) *Approver {
	return &Approver{caller: caller, sender: sender, resetFirst: resetFirst, log: logging.OrNop(log)}
}

// Ensure checks the wallet balance, then submits approve(spender, required) only when the
// current allowance is below required. Calling it again with the same amount is a no-op.
func (a *Approver) Ensure(ctx context.Context, tok token.Token, owner, spender common.Address, required *big.Int) (Result, error) {
	if required == nil || required.Sign() <= 0 {
		return Result{}, clierr.New(clierr.CodeUsage, "approval amount must be positive")
	}
	res := Result{Token: tok.Address, Spender: spender, Required: new(big.Int).Set(required)}

	balance, err := a.read(ctx, tok.Address, owner, "balanceOf", owner)
	if err != nil {
		return res, err
	}
	if balance.Cmp(required) < 0 {
		a.log.Error("insufficient balance for approval",
			zap.String("token", tok.String()),
			zap.String("balance", balance.String()),
			zap.String("required", required.String()),
		)
		return res, clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf("insufficient %s balance: have %s, need %s",
			tok, id.FormatUnits(balance, tok.Decimals), id.FormatUnits(required, tok.Decimals)))
	}

	allowance, err := a.read(ctx, tok.Address, owner, "allowance", owner, spender)
	if err != nil {
		return res, err
	}
	res.PreviousAllowance = allowance
	if allowance.Cmp(required) >= 0 {
		a.log.Info("allowance sufficient", zap.String("token", tok.String()), zap.String("allowance", allowance.String()))
		return res, nil
	}

	if allowance.Sign() > 0 && a.resetFirst {
		receipt, err := a.approve(ctx, tok, spender, big.NewInt(0), "approve-reset")
		if err != nil {
			return res, err
		}
		res.Reset = true
		res.Receipts = append(res.Receipts, receipt)
	}
	receipt, err := a.approve(ctx, tok, spender, required, "approve")
	if err != nil {
		return res, err
	}
	res.Approved = true
	res.Receipts = append(res.Receipts, receipt)

	after, err := a.read(ctx, tok.Address, owner, "allowance", owner, spender)
	if err != nil {
		return res, err
	}
	if after.Cmp(required) < 0 {
		return res, clierr.New(clierr.CodeApprovalFailed, fmt.Sprintf("allowance is %s after approval, need %s", after, required))
	}
	return res, nil
}

func (a *Approver) approve(ctx context.Context, tok token.Token, spender common.Address, amount *big.Int, label string) (*execution.Receipt, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack approval calldata", err)
	}
	a.log.Info("approving",
		zap.String("token", tok.String()),
		zap.String("spender", spender.Hex()),
		zap.String("amount", amount.String()),
	)
	return a.sender.Send(ctx, execution.TxRequest{
		Label: label,
		Kind:  clierr.CodeApprovalFailed,
		To:    tok.Address,
		Data:  data,
	})
}

func (a *Approver) read(ctx context.Context, tok, from common.Address, method string, args ...any) (*big.Int, error) {
	values, err := chain.Call(ctx, a.caller, erc20ABI, from, tok, method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("read %s on %s", method, tok.Hex()), err)
	}
	v, err := chain.AsBigInt(values[0])
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "decode "+method, err)
	}
	return v, nil
}
