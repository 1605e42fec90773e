package swap

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/approve"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/execution/exectest"
	"github.com/ggonzalez94/v3swap/internal/quote"
	"github.com/ggonzalez94/v3swap/internal/token"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	router = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	wallet = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	weth   = token.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18, Symbol: "WETH"}
	dai    = token.Token{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 18, Symbol: "DAI"}
)

type fakeQuoter struct {
	exactInputCalls  []*big.Int
	exactOutputCalls []*big.Int
	inputFor         *big.Int
	err              error
}

func (f *fakeQuoter) ExactInput(_ context.Context, in, out common.Address, fee uint32, amountIn *big.Int) (quote.Quote, error) {
	f.exactInputCalls = append(f.exactInputCalls, amountIn)
	if f.err != nil {
		return quote.Quote{}, f.err
	}
	return quote.Quote{TokenIn: in, TokenOut: out, Fee: fee, AmountIn: amountIn, AmountOut: new(big.Int).Mul(amountIn, big.NewInt(1500))}, nil
}

func (f *fakeQuoter) ExactOutput(_ context.Context, in, out common.Address, fee uint32, amountOut *big.Int) (quote.Quote, error) {
	f.exactOutputCalls = append(f.exactOutputCalls, amountOut)
	if f.err != nil {
		return quote.Quote{}, f.err
	}
	return quote.Quote{TokenIn: in, TokenOut: out, Fee: fee, AmountIn: f.inputFor, AmountOut: amountOut, ExactOutput: true}, nil
}

type fakeApprover struct {
	required []*big.Int
}

func (f *fakeApprover) Ensure(_ context.Context, tok token.Token, owner, spender common.Address, required *big.Int) (approve.Result, error) {
	f.required = append(f.required, required)
	return approve.Result{Token: tok.Address, Spender: spender, Required: required}, nil
}

func request() Request {
	return Request{
		TokenIn:   weth,
		TokenOut:  dai,
		Fee:       3000,
		AmountIn:  units("100000000000000000"),
		Quote:     quote.Quote{AmountOut: units("150250000000000000000")},
		Recipient: wallet,
	}
}

func newExecutor(sender Sender, q Quoter, a Approver, fallback bool) *Executor {
	opts := DefaultOptions()
	opts.ExactOutputFallback = fallback
	e := NewExecutor(router, sender, q, a, opts, nil)
	e.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return e
}

func failLabel(label string) func(execution.TxRequest) error {
	return func(req execution.TxRequest) error {
		if req.Label == label {
			return clierr.New(req.Kind, req.Label+" reverted").WithRevert(&clierr.Revert{Reason: "Too little received"}).MarkReverted()
		}
		return nil
	}
}

func TestSwapPacksExactInputSingle(t *testing.T) {
	sender := &exectest.Sender{}
	res, err := newExecutor(sender, &fakeQuoter{}, &fakeApprover{}, true).Swap(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, ModeExactInput, res.Mode)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, units("142737500000000000000"), res.MinimumOut)
	assert.Equal(t, uint64(1_700_000_600), res.Deadline)
	require.NotNil(t, res.Receipt)

	require.Len(t, sender.Requests, 1)
	req := sender.Requests[0]
	require.Equal(t, router, req.To)
	method := routerABI.Methods["exactInputSingle"]
	require.Equal(t, method.ID, req.Data[:4])
	args, err := method.Inputs.Unpack(req.Data[4:])
	require.NoError(t, err)

	params := *abi.ConvertType(args[0], new(ExactInputParams)).(*ExactInputParams)
	assert.Equal(t, weth.Address, params.TokenIn)
	assert.Equal(t, dai.Address, params.TokenOut)
	assert.Equal(t, big.NewInt(3000), params.Fee)
	assert.Equal(t, wallet, params.Recipient)
	assert.Equal(t, big.NewInt(1_700_000_600), params.Deadline)
	assert.Equal(t, units("100000000000000000"), params.AmountIn)
	assert.Equal(t, units("142737500000000000000"), params.AmountOutMinimum)
	assert.Equal(t, 0, params.SqrtPriceLimitX96.Sign())
}

func TestSwapFailureWithoutFallback(t *testing.T) {
	sender := &exectest.Sender{OnSend: failLabel("swap")}
	q := &fakeQuoter{}
	_, err := newExecutor(sender, q, &fakeApprover{}, false).Swap(context.Background(), request())
	require.Error(t, err)
	require.Equal(t, int(clierr.CodeSwapFailed), clierr.ExitCode(err))
	require.Equal(t, "Too little received", clierr.RevertOf(err).Reason)
	require.Equal(t, 1, strings.Count(err.Error(), "revert: Too little received"))

	// one diagnostic re-quote at 10% of the amount
	require.Equal(t, []*big.Int{units("10000000000000000")}, q.exactInputCalls)
	require.Empty(t, q.exactOutputCalls)
	require.Equal(t, []string{"swap"}, sender.Labels())
}

func TestSwapFallsBackToExactOutput(t *testing.T) {
	sender := &exectest.Sender{OnSend: failLabel("swap")}
	q := &fakeQuoter{inputFor: units("95000000000000000")}
	a := &fakeApprover{}
	res, err := newExecutor(sender, q, a, true).Swap(context.Background(), request())
	require.NoError(t, err)

	require.True(t, res.FallbackUsed)
	require.Equal(t, ModeExactOutput, res.Mode)
	require.NotEmpty(t, res.PrimaryError)
	require.NotNil(t, res.Diagnostic)
	require.NotNil(t, res.PrimaryReceipt)
	require.Equal(t, "swap", res.PrimaryReceipt.Label)
	require.Equal(t, uint64(0), res.PrimaryReceipt.Status)
	require.NotNil(t, res.Receipt)
	require.Equal(t, "swap-exact-output", res.Receipt.Label)
	require.Equal(t, []string{"swap", "swap-exact-output"}, sender.Labels())

	// target is the original minimum output; max in is widened by slippage and capped
	require.Equal(t, []*big.Int{units("142737500000000000000")}, q.exactOutputCalls)
	require.Equal(t, units("99750000000000000"), res.MaximumIn)
	require.Equal(t, []*big.Int{units("99750000000000000")}, a.required)

	method := routerABI.Methods["exactOutputSingle"]
	args, err := method.Inputs.Unpack(sender.Requests[1].Data[4:])
	require.NoError(t, err)
	params := *abi.ConvertType(args[0], new(ExactOutputParams)).(*ExactOutputParams)
	require.Equal(t, units("142737500000000000000"), params.AmountOut)
	require.Equal(t, units("99750000000000000"), params.AmountInMaximum)
}

func TestSwapDoesNotFallBackWhenOutcomeIsUnknown(t *testing.T) {
	cases := map[string]error{
		"receipt timeout": clierr.Wrap(clierr.CodeSwapFailed, "swap failed",
			clierr.New(clierr.CodeTimeout, "timed out waiting for receipt of 0xabc")),
		"broadcast failure": clierr.Wrap(clierr.CodeSwapFailed, "swap failed",
			clierr.New(clierr.CodeUnavailable, "broadcast transaction")),
		"signer failure": clierr.Wrap(clierr.CodeSwapFailed, "swap failed",
			clierr.New(clierr.CodeSigner, "sign transaction")),
	}
	for name, sendErr := range cases {
		t.Run(name, func(t *testing.T) {
			sender := &exectest.Sender{OnSend: func(req execution.TxRequest) error {
				if req.Label == "swap" {
					return sendErr
				}
				return nil
			}}
			q := &fakeQuoter{inputFor: units("95000000000000000")}
			a := &fakeApprover{}
			res, err := newExecutor(sender, q, a, true).Swap(context.Background(), request())
			require.Error(t, err)
			require.Equal(t, int(clierr.CodeSwapFailed), clierr.ExitCode(err))
			require.Equal(t, []string{"swap"}, sender.Labels())
			require.False(t, res.FallbackUsed)
			require.Empty(t, q.exactOutputCalls)
			require.Empty(t, a.required)

			cliErr, _ := clierr.As(err)
			require.Nil(t, cliErr.Fallback)
		})
	}
}

func TestSwapFallbackMaximumInIsCappedAtApprovedAmount(t *testing.T) {
	sender := &exectest.Sender{OnSend: failLabel("swap")}
	q := &fakeQuoter{inputFor: units("99000000000000000")}
	res, err := newExecutor(sender, q, &fakeApprover{}, true).Swap(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, units("100000000000000000"), res.MaximumIn)
}

func TestSwapFallbackIsSingleShot(t *testing.T) {
	sender := &exectest.Sender{OnSend: func(req execution.TxRequest) error {
		return clierr.New(req.Kind, req.Label+" reverted").MarkReverted()
	}}
	q := &fakeQuoter{inputFor: units("95000000000000000")}
	_, err := newExecutor(sender, q, &fakeApprover{}, true).Swap(context.Background(), request())
	require.Error(t, err)
	require.Equal(t, []string{"swap", "swap-exact-output"}, sender.Labels())

	cliErr, ok := clierr.As(err)
	require.True(t, ok)
	require.Equal(t, clierr.CodeSwapFailed, cliErr.Code)
	require.NotNil(t, cliErr.Fallback)
	require.Contains(t, err.Error(), "fallback: exact output swap failed")
}

func TestSwapFallbackQuoteFailureIsNested(t *testing.T) {
	sender := &exectest.Sender{OnSend: failLabel("swap")}
	q := &fakeQuoter{err: clierr.New(clierr.CodeQuoteFailed, "quoter reverted")}
	_, err := newExecutor(sender, q, &fakeApprover{}, true).Swap(context.Background(), request())
	require.Error(t, err)
	require.Equal(t, int(clierr.CodeSwapFailed), clierr.ExitCode(err))
	cliErr, _ := clierr.As(err)
	require.True(t, clierr.Is(cliErr.Fallback, clierr.CodeQuoteFailed))
	require.Equal(t, []string{"swap"}, sender.Labels())
}

func TestSwapRejectsZeroQuote(t *testing.T) {
	req := request()
	req.Quote = quote.Quote{AmountOut: big.NewInt(0)}
	_, err := newExecutor(&exectest.Sender{}, &fakeQuoter{}, nil, true).Swap(context.Background(), req)
	require.True(t, clierr.Is(err, clierr.CodeQuoteFailed))
}

func TestBuildExactInputUsesConfiguredSlippage(t *testing.T) {
	opts := Options{Slippage: decimal.RequireFromString("0.01"), Deadline: time.Minute}
	e := NewExecutor(router, &exectest.Sender{}, &fakeQuoter{}, nil, opts, nil)
	e.now = func() time.Time { return time.Unix(100, 0) }
	params := e.BuildExactInput(request())
	require.Equal(t, units("148747500000000000000"), params.AmountOutMinimum)
	require.Equal(t, big.NewInt(160), params.Deadline)
}
