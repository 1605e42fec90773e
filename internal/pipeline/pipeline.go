package pipeline

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/approve"
	"github.com/ggonzalez94/v3swap/internal/balance"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/id"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"github.com/ggonzalez94/v3swap/internal/pool"
	"github.com/ggonzalez94/v3swap/internal/quote"
	"github.com/ggonzalez94/v3swap/internal/swap"
	"github.com/ggonzalez94/v3swap/internal/token"
	"github.com/ggonzalez94/v3swap/internal/wrap"
	"go.uber.org/zap"
)

const (
	WrapAuto   = "auto"
	WrapAlways = "always"
	WrapNever  = "never"
)

// Pipeline wires the stages of one swap run.
type Pipeline struct {
	Wallet   common.Address
	Router   common.Address
	WETH     common.Address
	Resolver *token.Resolver
	Balances *balance.Reporter
	Wrapper  *wrap.Wrapper
	Approver *approve.Approver
	Locator  *pool.Locator
	Quoter   *quote.Quoter
	Executor *swap.Executor
	Log      *zap.Logger
}

type Request struct {
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	WrapMode string
	// DryRun stops after the quote and submits nothing.
	DryRun bool
}

// Report is the outcome of a run. It is returned partially filled on failure.
type Report struct {
	Wallet     common.Address     `json:"wallet"`
	TokenIn    token.Token        `json:"token_in"`
	TokenOut   token.Token        `json:"token_out"`
	AmountIn   balance.Amount     `json:"amount_in"`
	Before     *balance.Snapshot  `json:"balances_before,omitempty"`
	Wrap       *execution.Receipt `json:"wrap,omitempty"`
	Approval   *approve.Result    `json:"approval,omitempty"`
	Pool       *pool.Pool         `json:"pool,omitempty"`
	PoolPrice  string             `json:"pool_price,omitempty"`
	Quote      *quote.Quote       `json:"quote,omitempty"`
	QuotedOut  string             `json:"quoted_out,omitempty"`
	MinimumOut *balance.Amount    `json:"minimum_out,omitempty"`
	Swap       *swap.Result       `json:"swap,omitempty"`
	After      *balance.Snapshot  `json:"balances_after,omitempty"`
	DryRun     bool               `json:"dry_run"`
}

// Run executes connect-resolve-balances-wrap-approve-locate-quote-swap-balances once.
func (p *Pipeline) Run(ctx context.Context, req Request) (Report, error) {
	log := logging.OrNop(p.Log)
	report := Report{Wallet: p.Wallet, DryRun: req.DryRun}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return report, clierr.New(clierr.CodeUsage, "swap amount must be positive")
	}

	tokenIn, tokenOut, err := p.Resolver.ResolvePair(ctx, req.TokenIn, req.TokenOut)
	if err != nil {
		return report, err
	}
	report.TokenIn, report.TokenOut = tokenIn, tokenOut
	report.AmountIn = balance.Amount{BaseUnits: req.AmountIn, Decimal: id.FormatUnits(req.AmountIn, tokenIn.Decimals)}
	log.Info("swap run",
		zap.String("wallet", p.Wallet.Hex()),
		zap.String("token_in", tokenIn.String()),
		zap.String("token_out", tokenOut.String()),
		zap.String("amount_in", report.AmountIn.Decimal),
		zap.Bool("dry_run", req.DryRun),
	)

	before, err := p.Balances.Snapshot(ctx, "before", p.Wallet, tokenIn, tokenOut)
	if err != nil {
		return report, err
	}
	report.Before = &before

	if !req.DryRun {
		receipt, err := p.wrapIfNeeded(ctx, req, tokenIn, before)
		if err != nil {
			return report, err
		}
		report.Wrap = receipt

		approval, err := p.Approver.Ensure(ctx, tokenIn, p.Wallet, p.Router, req.AmountIn)
		if err != nil {
			return report, err
		}
		report.Approval = &approval
	}

	located, err := p.Locator.Find(ctx, tokenIn.Address, tokenOut.Address)
	if err != nil {
		return report, err
	}
	state, err := p.Locator.ReadState(ctx, located)
	if err != nil {
		return report, err
	}
	report.Pool = &state
	report.PoolPrice = PoolPrice(state, tokenIn, tokenOut)

	q, err := p.Quoter.ExactInput(ctx, tokenIn.Address, tokenOut.Address, state.Fee, req.AmountIn)
	if err != nil {
		return report, err
	}
	report.Quote = &q
	report.QuotedOut = id.FormatUnits(q.AmountOut, tokenOut.Decimals)

	swapReq := swap.Request{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		Fee:       state.Fee,
		AmountIn:  req.AmountIn,
		Quote:     q,
		Recipient: p.Wallet,
		Owner:     p.Wallet,
	}
	params := p.Executor.BuildExactInput(swapReq)
	report.MinimumOut = &balance.Amount{BaseUnits: params.AmountOutMinimum, Decimal: id.FormatUnits(params.AmountOutMinimum, tokenOut.Decimals)}
	if req.DryRun {
		log.Info("dry run complete", zap.String("quoted_out", report.QuotedOut), zap.String("minimum_out", report.MinimumOut.Decimal))
		return report, nil
	}

	result, err := p.Executor.Swap(ctx, swapReq)
	if result.Mode != "" {
		report.Swap = &result
	}
	if err != nil {
		return report, err
	}

	after, err := p.Balances.Snapshot(ctx, "after", p.Wallet, tokenIn, tokenOut)
	if err != nil {
		return report, err
	}
	report.After = &after
	return report, nil
}

func (p *Pipeline) wrapIfNeeded(ctx context.Context, req Request, tokenIn token.Token, before balance.Snapshot) (*execution.Receipt, error) {
	if tokenIn.Address != p.WETH {
		return nil, nil
	}
	var amount *big.Int
	switch req.WrapMode {
	case WrapNever:
		return nil, nil
	case WrapAlways:
		amount = req.AmountIn
	default:
		amount = wrap.Shortfall(before.Of(tokenIn.Address), req.AmountIn)
	}
	if amount.Sign() == 0 {
		return nil, nil
	}
	if before.Native.BaseUnits != nil && before.Native.BaseUnits.Cmp(amount) < 0 {
		return nil, clierr.New(clierr.CodeInsufficientBalance, "insufficient native balance to wrap "+id.FormatUnits(amount, 18))
	}
	return p.Wrapper.Wrap(ctx, amount)
}

// PoolPrice renders the price of one tokenIn in tokenOut from slot0.
func PoolPrice(p pool.Pool, tokenIn, tokenOut token.Token) string {
	if p.SqrtPriceX96 == nil || p.SqrtPriceX96.Sign() == 0 {
		return ""
	}
	if p.Token0 == tokenIn.Address {
		return pool.Price1Per0(p.SqrtPriceX96, tokenIn.Decimals, tokenOut.Decimals).String()
	}
	price := pool.Price1Per0(p.SqrtPriceX96, tokenOut.Decimals, tokenIn.Decimals)
	if price.IsZero() {
		return ""
	}
	return pool.Invert(price).String()
}
