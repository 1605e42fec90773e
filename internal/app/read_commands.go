package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/balance"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/id"
	"github.com/ggonzalez94/v3swap/internal/pipeline"
	"github.com/ggonzalez94/v3swap/internal/pool"
	"github.com/ggonzalez94/v3swap/internal/quote"
	"github.com/ggonzalez94/v3swap/internal/swap"
	"github.com/ggonzalez94/v3swap/internal/token"
	"github.com/spf13/cobra"
)

type poolOutput struct {
	TokenIn  token.Token `json:"token_in"`
	TokenOut token.Token `json:"token_out"`
	pool.Pool
	// Price is one unit of token_in in token_out at the current sqrtPriceX96.
	Price string `json:"price,omitempty"`
}

type quoteOutput struct {
	TokenIn    token.Token     `json:"token_in"`
	TokenOut   token.Token     `json:"token_out"`
	Pool       common.Address  `json:"pool"`
	Fee        uint32          `json:"fee"`
	AmountIn   balance.Amount  `json:"amount_in"`
	AmountOut  balance.Amount  `json:"amount_out"`
	Slippage   string          `json:"slippage"`
	MinimumOut *balance.Amount `json:"minimum_out,omitempty"`
	MaximumIn  *balance.Amount `json:"maximum_in,omitempty"`
	Quote      quote.Quote     `json:"quote"`
}

func (s *runtimeState) newTokenCommand() *cobra.Command {
	root := &cobra.Command{Use: "token", Short: "Token metadata commands"}
	var tokenArg string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Read ERC-20 decimals, symbol and name",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			sess, err := s.connect(ctx)
			if err != nil {
				return err
			}
			addr, err := id.ParseToken(tokenArg, sess.chainID, sess.contracts.WETH)
			if err != nil {
				return err
			}
			tok, err := sess.resolver().Resolve(ctx, addr)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), tok, nil)
		},
	}
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token address or known symbol")
	_ = cmd.MarkFlagRequired("token")
	root.AddCommand(cmd)
	return root
}

func (s *runtimeState) newBalancesCommand() *cobra.Command {
	var tokensArg, walletArg string
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Show native and token balances of a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			sess, err := s.connect(ctx)
			if err != nil {
				return err
			}
			wallet, err := s.walletAddress(sess, walletArg)
			if err != nil {
				return err
			}
			resolver := sess.resolver()
			var tokens []token.Token
			for _, arg := range splitCSV(tokensArg) {
				addr, err := id.ParseToken(arg, sess.chainID, sess.contracts.WETH)
				if err != nil {
					return err
				}
				tok, err := resolver.Resolve(ctx, addr)
				if err != nil {
					return err
				}
				tokens = append(tokens, tok)
			}
			snapshot, err := sess.balances().Snapshot(ctx, "query", wallet, tokens...)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), snapshot, nil)
		},
	}
	cmd.Flags().StringVar(&tokensArg, "tokens", "WETH", "Tokens to include (comma-separated addresses or symbols)")
	cmd.Flags().StringVar(&walletArg, "wallet", "", "Wallet address (defaults to the signer)")
	return cmd
}

func (s *runtimeState) newPoolCommand() *cobra.Command {
	root := &cobra.Command{Use: "pool", Short: "Uniswap V3 pool commands"}
	var tokenInArg, tokenOutArg string
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Locate the pool for a pair and read its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			sess, err := s.connect(ctx)
			if err != nil {
				return err
			}
			tokenIn, tokenOut, err := s.resolvePair(ctx, sess, tokenInArg, tokenOutArg)
			if err != nil {
				return err
			}
			locator := sess.locator()
			located, err := locator.Find(ctx, tokenIn.Address, tokenOut.Address)
			if err != nil {
				return err
			}
			state, err := locator.ReadState(ctx, located)
			if err != nil {
				return err
			}
			data := poolOutput{TokenIn: tokenIn, TokenOut: tokenOut, Pool: state, Price: pipeline.PoolPrice(state, tokenIn, tokenOut)}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, poolWarnings(state))
		},
	}
	cmd.Flags().StringVar(&tokenInArg, "token-in", "", "Input token address or symbol")
	cmd.Flags().StringVar(&tokenOutArg, "token-out", "", "Output token address or symbol")
	_ = cmd.MarkFlagRequired("token-in")
	_ = cmd.MarkFlagRequired("token-out")
	root.AddCommand(cmd)
	return root
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var tokenInArg, tokenOutArg, amountBase, amountDecimal string
	var fee uint32
	var exactOutput bool
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a single-hop swap with QuoterV2",
		Long:  "Quote a single-hop swap. The amount is the input amount, or the desired output amount with --exact-output.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext(cmd)
			defer cancel()
			sess, err := s.connect(ctx)
			if err != nil {
				return err
			}
			tokenIn, tokenOut, err := s.resolvePair(ctx, sess, tokenInArg, tokenOutArg)
			if err != nil {
				return err
			}
			amountToken := tokenIn
			if exactOutput {
				amountToken = tokenOut
			}
			amount, _, err := id.NormalizeAmount(amountBase, amountDecimal, amountToken.Decimals)
			if err != nil {
				return err
			}

			var poolAddr common.Address
			if fee == 0 {
				located, err := sess.locator().Find(ctx, tokenIn.Address, tokenOut.Address)
				if err != nil {
					return err
				}
				poolAddr, fee = located.Address, located.Fee
			} else if !isFeeTier(fee) {
				return clierr.New(clierr.CodeUsage, "--fee must be one of 500, 3000 or 10000")
			}

			quoter := sess.quoter()
			var q quote.Quote
			if exactOutput {
				q, err = quoter.ExactOutput(ctx, tokenIn.Address, tokenOut.Address, fee, amount)
			} else {
				q, err = quoter.ExactInput(ctx, tokenIn.Address, tokenOut.Address, fee, amount)
			}
			if err != nil {
				return err
			}

			data := quoteOutput{
				TokenIn:   tokenIn,
				TokenOut:  tokenOut,
				Pool:      poolAddr,
				Fee:       fee,
				AmountIn:  amountOf(q.AmountIn, tokenIn),
				AmountOut: amountOf(q.AmountOut, tokenOut),
				Slippage:  s.settings.Slippage.String(),
				Quote:     q,
			}
			if exactOutput {
				maxIn := amountOf(swap.MaximumIn(q.AmountIn, s.settings.Slippage), tokenIn)
				data.MaximumIn = &maxIn
			} else {
				minOut := amountOf(swap.MinimumOut(q.AmountOut, s.settings.Slippage), tokenOut)
				data.MinimumOut = &minOut
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
	cmd.Flags().StringVar(&tokenInArg, "token-in", "", "Input token address or symbol")
	cmd.Flags().StringVar(&tokenOutArg, "token-out", "", "Output token address or symbol")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().Uint32Var(&fee, "fee", 0, "Fee tier (default: the first pool found)")
	cmd.Flags().BoolVar(&exactOutput, "exact-output", false, "Treat the amount as the desired output")
	_ = cmd.MarkFlagRequired("token-in")
	_ = cmd.MarkFlagRequired("token-out")
	return cmd
}

func (s *runtimeState) resolvePair(ctx context.Context, sess *session, inArg, outArg string) (token.Token, token.Token, error) {
	in, err := id.ParseToken(inArg, sess.chainID, sess.contracts.WETH)
	if err != nil {
		return token.Token{}, token.Token{}, err
	}
	out, err := id.ParseToken(outArg, sess.chainID, sess.contracts.WETH)
	if err != nil {
		return token.Token{}, token.Token{}, err
	}
	return sess.resolver().ResolvePair(ctx, in, out)
}

// walletAddress is the explicit --wallet, else the signer's address.
func (s *runtimeState) walletAddress(sess *session, walletArg string) (common.Address, error) {
	if walletArg != "" {
		return id.ParseAddress("wallet", walletArg)
	}
	txSigner, err := s.loadSigner(sess)
	if err != nil {
		return common.Address{}, err
	}
	return txSigner.Address(), nil
}

func amountOf(v *big.Int, tok token.Token) balance.Amount {
	return balance.Amount{BaseUnits: v, Decimal: id.FormatUnits(v, tok.Decimals)}
}

func poolWarnings(p pool.Pool) []string {
	if p.Liquidity != nil && p.Liquidity.Sign() == 0 {
		return []string{"pool " + p.Address.Hex() + " has zero in-range liquidity; swaps are likely to revert"}
	}
	return nil
}

func isFeeTier(fee uint32) bool {
	for _, tier := range pool.FeeTiers {
		if tier == fee {
			return true
		}
	}
	return false
}
