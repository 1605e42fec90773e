package quote

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/chain"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"go.uber.org/zap"
)

var quoterABI = registry.MustABI(registry.UniswapV3QuoterV2ABI)

// Quote is a QuoterV2 result. It is only valid at the block it was read.
type Quote struct {
	TokenIn                 common.Address `json:"token_in"`
	TokenOut                common.Address `json:"token_out"`
	Fee                     uint32         `json:"fee"`
	AmountIn                *big.Int       `json:"amount_in"`
	AmountOut               *big.Int       `json:"amount_out"`
	SqrtPriceX96After       *big.Int       `json:"sqrt_price_x96_after"`
	InitializedTicksCrossed uint32         `json:"initialized_ticks_crossed"`
	GasEstimate             *big.Int       `json:"gas_estimate"`
	ExactOutput             bool           `json:"exact_output"`
}

type exactInputParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactOutputParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Amount            *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type Quoter struct {
	caller chain.Caller
	quoter common.Address
	log    *zap.Logger
}

func New(caller chain.Caller, quoter common.Address, log *zap.Logger) *Quoter {
	return &Quoter{caller: caller, quoter: quoter, log: logging.OrNop(log)}
}

// ExactInput quotes the output of swapping amountIn through the fee tier. No price limit is
// applied.
func (q *Quoter) ExactInput(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Quote{}, clierr.New(clierr.CodeUsage, "quote amount must be positive")
	}
	params := exactInputParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               new(big.Int).SetUint64(uint64(fee)),
		SqrtPriceLimitX96: big.NewInt(0),
	}
	values, err := q.call(ctx, "quoteExactInputSingle", params)
	if err != nil {
		return Quote{}, err
	}
	out, err := decode(values)
	if err != nil {
		return Quote{}, err
	}
	quote := Quote{TokenIn: tokenIn, TokenOut: tokenOut, Fee: fee, AmountIn: new(big.Int).Set(amountIn)}
	quote.AmountOut, quote.SqrtPriceX96After, quote.InitializedTicksCrossed, quote.GasEstimate = out.amount, out.sqrtAfter, out.ticks, out.gas
	if quote.AmountOut.Sign() == 0 {
		return Quote{}, clierr.New(clierr.CodeQuoteFailed, "quoter returned zero output")
	}
	q.log.Info("quote",
		zap.String("mode", "exact_input"),
		zap.Uint32("fee", fee),
		zap.String("amount_in", quote.AmountIn.String()),
		zap.String("amount_out", quote.AmountOut.String()),
	)
	return quote, nil
}

// ExactOutput quotes the input needed to receive amountOut.
func (q *Quoter) ExactOutput(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountOut *big.Int) (Quote, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return Quote{}, clierr.New(clierr.CodeUsage, "quote amount must be positive")
	}
	params := exactOutputParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Amount:            amountOut,
		Fee:               new(big.Int).SetUint64(uint64(fee)),
		SqrtPriceLimitX96: big.NewInt(0),
	}
	values, err := q.call(ctx, "quoteExactOutputSingle", params)
	if err != nil {
		return Quote{}, err
	}
	out, err := decode(values)
	if err != nil {
		return Quote{}, err
	}
	quote := Quote{TokenIn: tokenIn, TokenOut: tokenOut, Fee: fee, AmountOut: new(big.Int).Set(amountOut), ExactOutput: true}
	quote.AmountIn, quote.SqrtPriceX96After, quote.InitializedTicksCrossed, quote.GasEstimate = out.amount, out.sqrtAfter, out.ticks, out.gas
	if quote.AmountIn.Sign() == 0 {
		return Quote{}, clierr.New(clierr.CodeQuoteFailed, "quoter returned zero input")
	}
	q.log.Info("quote",
		zap.String("mode", "exact_output"),
		zap.Uint32("fee", fee),
		zap.String("amount_in", quote.AmountIn.String()),
		zap.String("amount_out", quote.AmountOut.String()),
	)
	return quote, nil
}

func (q *Quoter) call(ctx context.Context, method string, params any) ([]any, error) {
	values, err := chain.Call(ctx, q.caller, quoterABI, common.Address{}, q.quoter, method, params)
	if err != nil {
		revert := chain.DecodeRevert(err)
		fields := []zap.Field{zap.String("method", method), zap.Error(err)}
		if revert != nil {
			fields = append(fields, zap.String("revert_data", revert.Data), zap.String("revert_reason", revert.Reason))
		}
		q.log.Error("quote failed", fields...)
		return nil, clierr.Wrap(clierr.CodeQuoteFailed, method, err).WithRevert(revert)
	}
	return values, nil
}

type quoterOutput struct {
	amount    *big.Int
	sqrtAfter *big.Int
	ticks     uint32
	gas       *big.Int
}

func decode(values []any) (quoterOutput, error) {
	if len(values) != 4 {
		return quoterOutput{}, clierr.New(clierr.CodeQuoteFailed, fmt.Sprintf("unexpected quoter output length %d", len(values)))
	}
	amount, err := chain.AsBigInt(values[0])
	if err != nil {
		return quoterOutput{}, clierr.Wrap(clierr.CodeQuoteFailed, "decode quoted amount", err)
	}
	sqrtAfter, err := chain.AsBigInt(values[1])
	if err != nil {
		return quoterOutput{}, clierr.Wrap(clierr.CodeQuoteFailed, "decode sqrtPriceX96After", err)
	}
	ticks, err := chain.AsBigInt(values[2])
	if err != nil {
		return quoterOutput{}, clierr.Wrap(clierr.CodeQuoteFailed, "decode initializedTicksCrossed", err)
	}
	gas, err := chain.AsBigInt(values[3])
	if err != nil {
		return quoterOutput{}, clierr.Wrap(clierr.CodeQuoteFailed, "decode gasEstimate", err)
	}
	return quoterOutput{amount: amount, sqrtAfter: sqrtAfter, ticks: uint32(ticks.Uint64()), gas: gas}, nil
}
