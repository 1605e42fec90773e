package app

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/balance"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/id"
	"github.com/ggonzalez94/v3swap/internal/pipeline"
	"github.com/ggonzalez94/v3swap/internal/schema"
	"github.com/ggonzalez94/v3swap/internal/swap"
	"github.com/spf13/cobra"
)

type wrapOutput struct {
	WETH    common.Address     `json:"weth"`
	Amount  balance.Amount     `json:"amount"`
	Receipt *execution.Receipt `json:"receipt"`
}

func (s *runtimeState) newWrapCommand() *cobra.Command {
	var amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "wrap",
		Short: "Wrap native currency into WETH9",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runWrap(cmd, amountBase, amountDecimal, false)
		},
	}
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in wei")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in ether units")
	cmd.Annotations = transactingCommand()
	return cmd
}

func (s *runtimeState) newUnwrapCommand() *cobra.Command {
	var amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "unwrap",
		Short: "Unwrap WETH9 into native currency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runWrap(cmd, amountBase, amountDecimal, true)
		},
	}
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in wei")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in ether units")
	cmd.Annotations = transactingCommand()
	return cmd
}

func (s *runtimeState) runWrap(cmd *cobra.Command, amountBase, amountDecimal string, unwrap bool) error {
	ctx, cancel := s.commandContext(cmd)
	defer cancel()
	amount, decimalAmount, err := id.NormalizeAmount(amountBase, amountDecimal, 18)
	if err != nil {
		return err
	}
	sess, err := s.connect(ctx)
	if err != nil {
		return err
	}
	if _, err := s.transact(ctx, sess); err != nil {
		return err
	}
	wallet := sess.signer.Address()

	reporter := sess.balances()
	var have *big.Int
	if unwrap {
		have, err = reporter.TokenBalance(ctx, sess.contracts.WETH, wallet)
	} else {
		have, err = sess.client.BalanceAt(ctx, wallet, nil)
		if err != nil {
			err = clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
	}
	if err != nil {
		return err
	}
	if have.Cmp(amount) < 0 {
		return clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf("insufficient balance: have %s, need %s",
			id.FormatUnits(have, 18), decimalAmount))
	}

	wrapper := sess.wrapper()
	var receipt *execution.Receipt
	if unwrap {
		receipt, err = wrapper.Unwrap(ctx, amount)
	} else {
		receipt, err = wrapper.Wrap(ctx, amount)
	}
	if err != nil {
		return err
	}
	data := wrapOutput{
		WETH:    sess.contracts.WETH,
		Amount:  balance.Amount{BaseUnits: amount, Decimal: decimalAmount},
		Receipt: receipt,
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
}

func (s *runtimeState) newApproveCommand() *cobra.Command {
	var tokenArg, spenderArg, amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Ensure an ERC-20 allowance for the swap router",
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
			spender := sess.contracts.Router
			if spenderArg != "" {
				if spender, err = id.ParseAddress("spender", spenderArg); err != nil {
					return err
				}
			}
			tok, err := sess.resolver().Resolve(ctx, addr)
			if err != nil {
				return err
			}
			amount, _, err := id.NormalizeAmount(amountBase, amountDecimal, tok.Decimals)
			if err != nil {
				return err
			}
			if _, err := s.transact(ctx, sess); err != nil {
				return err
			}
			result, err := sess.approver(s.settings.ApprovalReset).Ensure(ctx, tok, sess.signer.Address(), spender, amount)
			if err != nil {
				s.lastData = result
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, nil)
		},
	}
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token address or known symbol")
	cmd.Flags().StringVar(&spenderArg, "spender", "", "Spender address (defaults to the swap router)")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in decimal units")
	_ = cmd.MarkFlagRequired("token")
	cmd.Annotations = transactingCommand()
	return cmd
}

const swapLong = `Resolve tokens, snapshot balances, wrap and approve when needed, locate the pool,
quote, and submit an exactInputSingle swap bounded by --slippage. A reverted swap is
retried once as exactOutputSingle unless --exact-output-fallback=false.`

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var tokenInArg, tokenOutArg, amountBase, amountDecimal string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Run the full swap pipeline",
		Long:  swapLong,
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
			amount, _, err := id.NormalizeAmount(amountBase, amountDecimal, tokenIn.Decimals)
			if err != nil {
				return err
			}
			if dryRun {
				if _, err := s.loadSigner(sess); err != nil {
					return err
				}
			} else if _, err := s.transact(ctx, sess); err != nil {
				return err
			}

			p := s.newPipeline(sess)
			report, err := p.Run(ctx, pipeline.Request{
				TokenIn:  tokenIn.Address,
				TokenOut: tokenOut.Address,
				AmountIn: amount,
				WrapMode: s.settings.WrapMode,
				DryRun:   dryRun,
			})
			var warnings []string
			if report.Pool != nil {
				warnings = poolWarnings(*report.Pool)
			}
			if report.Swap != nil && report.Swap.FallbackUsed {
				warnings = append(warnings, "exact input swap reverted; filled with the exact output fallback")
			}
			if err != nil {
				s.lastData = report
				s.lastWarnings = warnings
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), report, warnings)
		},
	}
	cmd.Flags().StringVar(&tokenInArg, "token-in", "", "Input token address or symbol")
	cmd.Flags().StringVar(&tokenOutArg, "token-out", "", "Output token address or symbol")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Input amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Input amount in decimal units")
	cmd.Flags().String("wrap-mode", pipeline.WrapAuto, "Wrap native currency when token-in is WETH (auto|always|never)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Stop after the quote and submit nothing")
	_ = cmd.MarkFlagRequired("token-in")
	_ = cmd.MarkFlagRequired("token-out")
	cmd.Annotations = transactingCommand()
	return cmd
}

func transactingCommand() map[string]string {
	return map[string]string{schema.AnnotationTransacts: "true"}
}

func (s *runtimeState) newPipeline(sess *session) *pipeline.Pipeline {
	approver := sess.approver(s.settings.ApprovalReset)
	quoter := sess.quoter()
	return &pipeline.Pipeline{
		Wallet:   sess.signer.Address(),
		Router:   sess.contracts.Router,
		WETH:     sess.contracts.WETH,
		Resolver: sess.resolver(),
		Balances: sess.balances(),
		Wrapper:  sess.wrapper(),
		Approver: approver,
		Locator:  sess.locator(),
		Quoter:   quoter,
		Executor: swap.NewExecutor(sess.contracts.Router, sess.sender, quoter, approver, s.swapOptions(), sess.log),
		Log:      sess.log,
	}
}
