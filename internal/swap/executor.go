package swap

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/approve"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"github.com/ggonzalez94/v3swap/internal/quote"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"github.com/ggonzalez94/v3swap/internal/token"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ModeExactInput  = "exact_input"
	ModeExactOutput = "exact_output"
)

var routerABI = registry.MustABI(registry.UniswapV3RouterABI)

type Sender interface {
	Send(ctx context.Context, req execution.TxRequest) (*execution.Receipt, error)
}

type Quoter interface {
	ExactInput(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (quote.Quote, error)
	ExactOutput(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountOut *big.Int) (quote.Quote, error)
}

type Approver interface {
	Ensure(ctx context.Context, tok token.Token, owner, spender common.Address, required *big.Int) (approve.Result, error)
}

// ExactInputParams mirrors the SwapRouter exactInputSingle tuple.
type ExactInputParams struct {
	TokenIn           common.Address `json:"token_in"`
	TokenOut          common.Address `json:"token_out"`
	Fee               *big.Int       `json:"fee"`
	Recipient         common.Address `json:"recipient"`
	Deadline          *big.Int       `json:"deadline"`
	AmountIn          *big.Int       `json:"amount_in"`
	AmountOutMinimum  *big.Int       `json:"amount_out_minimum"`
	SqrtPriceLimitX96 *big.Int       `json:"sqrt_price_limit_x96"`
}

// ExactOutputParams mirrors the SwapRouter exactOutputSingle tuple.
type ExactOutputParams struct {
	TokenIn           common.Address `json:"token_in"`
	TokenOut          common.Address `json:"token_out"`
	Fee               *big.Int       `json:"fee"`
	Recipient         common.Address `json:"recipient"`
	Deadline          *big.Int       `json:"deadline"`
	AmountOut         *big.Int       `json:"amount_out"`
	AmountInMaximum   *big.Int       `json:"amount_in_maximum"`
	SqrtPriceLimitX96 *big.Int       `json:"sqrt_price_limit_x96"`
}

type Options struct {
	Slippage            decimal.Decimal
	Deadline            time.Duration
	ExactOutputFallback bool
}

func DefaultOptions() Options {
	return Options{
		Slippage:            decimal.RequireFromString("0.05"),
		Deadline:            10 * time.Minute,
		ExactOutputFallback: true,
	}
}

// Request is one exact-input swap against a located pool.
type Request struct {
	TokenIn   token.Token
	TokenOut  token.Token
	Fee       uint32
	AmountIn  *big.Int
	Quote     quote.Quote
	Recipient common.Address
	// Owner pays the input; it defaults to Recipient.
	Owner common.Address
}

func (r Request) owner() common.Address {
	if r.Owner != (common.Address{}) {
		return r.Owner
	}
	return r.Recipient
}

// Result reports the swap that was finally mined.
type Result struct {
	Mode         string             `json:"mode"`
	MinimumOut   *big.Int           `json:"minimum_out"`
	MaximumIn    *big.Int           `json:"maximum_in,omitempty"`
	Deadline     uint64             `json:"deadline"`
	ExactInput   *ExactInputParams  `json:"exact_input,omitempty"`
	ExactOutput  *ExactOutputParams `json:"exact_output,omitempty"`
	Receipt      *execution.Receipt `json:"receipt,omitempty"`
	FallbackUsed bool               `json:"fallback_used"`
	// PrimaryError is the exact-input failure that triggered the fallback.
	PrimaryError string `json:"primary_error,omitempty"`
	// PrimaryReceipt is the mined, reverted exact-input transaction, if it reached the chain.
	PrimaryReceipt *execution.Receipt `json:"primary_receipt,omitempty"`
	Diagnostic     *quote.Quote       `json:"diagnostic_quote,omitempty"`
}

// Executor submits router swaps with a slippage bound and deadline.
type Executor struct {
	router   common.Address
	sender   Sender
	quoter   Quoter
	approver Approver
	opts     Options
	now      func() time.Time
	log      *zap.Logger
}

func NewExecutor(router common.Address, sender Sender, quoter Quoter, approver Approver, opts Options, log *zap.Logger) *Executor {
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultOptions().Deadline
	}
	return &Executor{
		router:   router,
		sender:   sender,
		quoter:   quoter,
		approver: approver,
		opts:     opts,
		now:      time.Now,
		log:      logging.OrNop(log),
	}
}

// SetClock replaces the time source used for deadlines.
func (e *Executor) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// BuildExactInput computes the slippage bound and deadline for req without submitting.
func (e *Executor) BuildExactInput(req Request) ExactInputParams {
	return ExactInputParams{
		TokenIn:           req.TokenIn.Address,
		TokenOut:          req.TokenOut.Address,
		Fee:               new(big.Int).SetUint64(uint64(req.Fee)),
		Recipient:         req.Recipient,
		Deadline:          e.deadline(),
		AmountIn:          new(big.Int).Set(req.AmountIn),
		AmountOutMinimum:  MinimumOut(req.Quote.AmountOut, e.opts.Slippage),
		SqrtPriceLimitX96: big.NewInt(0),
	}
}

// Swap submits exactInputSingle. On failure it logs a diagnostic re-quote at 10% of the
// amount. Only when the exact-input call reverted, and the fallback is enabled, it retries
// once with exactOutputSingle for the same minimum output. Any other failure may have left
// the transaction pending, so it is returned as is.
func (e *Executor) Swap(ctx context.Context, req Request) (Result, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return Result{}, clierr.New(clierr.CodeUsage, "swap amount must be positive")
	}
	if req.Quote.AmountOut == nil || req.Quote.AmountOut.Sign() <= 0 {
		return Result{}, clierr.New(clierr.CodeQuoteFailed, "swap requires a non-zero quote")
	}
	params := e.BuildExactInput(req)
	res := Result{
		Mode:       ModeExactInput,
		MinimumOut: params.AmountOutMinimum,
		Deadline:   params.Deadline.Uint64(),
		ExactInput: &params,
	}
	e.log.Info("submitting swap",
		zap.String("mode", ModeExactInput),
		zap.String("token_in", req.TokenIn.String()),
		zap.String("token_out", req.TokenOut.String()),
		zap.Uint32("fee", req.Fee),
		zap.String("amount_in", params.AmountIn.String()),
		zap.String("quoted_out", req.Quote.AmountOut.String()),
		zap.String("minimum_out", params.AmountOutMinimum.String()),
		zap.String("slippage", e.opts.Slippage.String()),
		zap.Uint64("deadline", res.Deadline),
	)

	data, err := routerABI.Pack("exactInputSingle", params)
	if err != nil {
		return res, clierr.Wrap(clierr.CodeInternal, "pack exactInputSingle", err)
	}
	receipt, err := e.sender.Send(ctx, execution.TxRequest{
		Label: "swap",
		Kind:  clierr.CodeSwapFailed,
		To:    e.router,
		Data:  data,
	})
	res.Receipt = receipt
	if err == nil {
		return res, nil
	}
	primary := swapError("exact input swap failed", err)
	if ctx.Err() != nil {
		return res, primary
	}

	res.Diagnostic = e.diagnose(ctx, req)
	if !e.opts.ExactOutputFallback {
		return res, primary
	}
	if !clierr.IsReverted(err) {
		e.log.Warn("exact input swap did not revert, skipping exact output fallback", zap.Error(err))
		return res, primary
	}

	res.PrimaryError = err.Error()
	fbRes, fbErr := e.fallback(ctx, req, params.AmountOutMinimum)
	if fbErr != nil {
		return res, primary.WithFallback(fbErr)
	}
	fbRes.FallbackUsed = true
	fbRes.PrimaryError = res.PrimaryError
	fbRes.PrimaryReceipt = res.Receipt
	fbRes.Diagnostic = res.Diagnostic
	fbRes.ExactInput = res.ExactInput
	return fbRes, nil
}

// ExactOutput submits exactOutputSingle for amountOut paying at most maxIn.
func (e *Executor) ExactOutput(ctx context.Context, req Request, amountOut, maxIn *big.Int) (Result, error) {
	params := ExactOutputParams{
		TokenIn:           req.TokenIn.Address,
		TokenOut:          req.TokenOut.Address,
		Fee:               new(big.Int).SetUint64(uint64(req.Fee)),
		Recipient:         req.Recipient,
		Deadline:          e.deadline(),
		AmountOut:         new(big.Int).Set(amountOut),
		AmountInMaximum:   new(big.Int).Set(maxIn),
		SqrtPriceLimitX96: big.NewInt(0),
	}
	res := Result{
		Mode:        ModeExactOutput,
		MinimumOut:  params.AmountOut,
		MaximumIn:   params.AmountInMaximum,
		Deadline:    params.Deadline.Uint64(),
		ExactOutput: &params,
	}
	e.log.Info("submitting swap",
		zap.String("mode", ModeExactOutput),
		zap.Uint32("fee", req.Fee),
		zap.String("amount_out", params.AmountOut.String()),
		zap.String("maximum_in", params.AmountInMaximum.String()),
		zap.Uint64("deadline", res.Deadline),
	)
	data, err := routerABI.Pack("exactOutputSingle", params)
	if err != nil {
		return res, clierr.Wrap(clierr.CodeInternal, "pack exactOutputSingle", err)
	}
	receipt, err := e.sender.Send(ctx, execution.TxRequest{
		Label: "swap-exact-output",
		Kind:  clierr.CodeSwapFailed,
		To:    e.router,
		Data:  data,
	})
	res.Receipt = receipt
	if err != nil {
		return res, swapError("exact output swap failed", err)
	}
	return res, nil
}

func (e *Executor) fallback(ctx context.Context, req Request, amountOut *big.Int) (Result, error) {
	q, err := e.quoter.ExactOutput(ctx, req.TokenIn.Address, req.TokenOut.Address, req.Fee, amountOut)
	if err != nil {
		return Result{}, err
	}
	maxIn := MaximumIn(q.AmountIn, e.opts.Slippage)
	if maxIn.Cmp(req.AmountIn) > 0 {
		// never spend more than the amount the caller approved for the swap
		maxIn = new(big.Int).Set(req.AmountIn)
	}
	if q.AmountIn.Cmp(maxIn) > 0 {
		return Result{}, clierr.New(clierr.CodeSwapFailed, "exact output quote needs more input than approved")
	}
	if e.approver != nil {
		if _, err := e.approver.Ensure(ctx, req.TokenIn, req.owner(), e.router, maxIn); err != nil {
			return Result{}, err
		}
	}
	e.log.Warn("retrying with exact output swap",
		zap.String("amount_out", amountOut.String()),
		zap.String("quoted_in", q.AmountIn.String()),
		zap.String("maximum_in", maxIn.String()),
	)
	return e.ExactOutput(ctx, req, amountOut, maxIn)
}

// diagnose re-quotes a tenth of the amount to tell a liquidity problem from a broken pool.
func (e *Executor) diagnose(ctx context.Context, req Request) *quote.Quote {
	tenth := new(big.Int).Div(req.AmountIn, big.NewInt(10))
	if tenth.Sign() == 0 {
		tenth = big.NewInt(1)
	}
	q, err := e.quoter.ExactInput(ctx, req.TokenIn.Address, req.TokenOut.Address, req.Fee, tenth)
	if err != nil {
		e.log.Warn("diagnostic re-quote failed", zap.String("amount_in", tenth.String()), zap.Error(err))
		return nil
	}
	e.log.Warn("diagnostic re-quote",
		zap.String("amount_in", tenth.String()),
		zap.String("amount_out", q.AmountOut.String()),
	)
	return &q
}

func (e *Executor) deadline() *big.Int {
	return big.NewInt(e.now().Add(e.opts.Deadline).Unix())
}

func swapError(msg string, err error) *clierr.Error {
	return clierr.Wrap(clierr.CodeSwapFailed, msg, err).WithRevert(clierr.RevertOf(err))
}
