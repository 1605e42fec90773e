package execution

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/v3swap/internal/chain"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution/signer"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"go.uber.org/zap"
)

const (
	GasStrategyEstimate = "estimate"
	GasStrategyFixed    = "fixed"
)

type Options struct {
	Simulate           bool
	GasStrategy        string
	GasMargin          uint64
	GasLimit           uint64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	PollInterval       time.Duration
	ReceiptTimeout     time.Duration
}

func DefaultOptions() Options {
	return Options{
		Simulate:       true,
		GasStrategy:    GasStrategyEstimate,
		GasMargin:      50_000,
		GasLimit:       500_000,
		PollInterval:   time.Second,
		ReceiptTimeout: 2 * time.Minute,
	}
}

// TxRequest is one contract call to submit. Kind is the error code reported when the
// transaction fails.
type TxRequest struct {
	Label string
	Kind  clierr.Code
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Receipt summarizes a mined transaction.
type Receipt struct {
	Label       string `json:"label"`
	TxHash      string `json:"tx_hash"`
	GasLimit    uint64 `json:"gas_limit"`
	GasUsed     uint64 `json:"gas_used"`
	BlockNumber uint64 `json:"block_number"`
	Status      uint64 `json:"status"`
}

// Sender builds, signs and submits EIP-1559 transactions for one wallet.
type Sender struct {
	backend chain.Backend
	signer  signer.Signer
	chainID *big.Int
	opts    Options
	log     *zap.Logger
}

func NewSender(backend chain.Backend, txSigner signer.Signer, chainID *big.Int, opts Options, log *zap.Logger) *Sender {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = defaults.ReceiptTimeout
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = defaults.GasLimit
	}
	if opts.GasStrategy == "" {
		opts.GasStrategy = defaults.GasStrategy
	}
	return &Sender{backend: backend, signer: txSigner, chainID: chainID, opts: opts, log: logging.OrNop(log)}
}

// From is the wallet address transactions are sent from.
func (s *Sender) From() common.Address { return s.signer.Address() }

// Send simulates (when enabled), submits and waits for req. Every failure is reported
// with req.Kind. Only a simulation revert or a mined status-0 receipt is flagged as
// reverted; broadcast, signing and receipt timeouts leave the on-chain outcome unknown.
func (s *Sender) Send(ctx context.Context, req TxRequest) (*Receipt, error) {
	if req.Kind == 0 {
		req.Kind = clierr.CodeInternal
	}
	if req.Value == nil {
		req.Value = big.NewInt(0)
	}
	log := s.log.With(zap.String("tx", req.Label), zap.String("to", req.To.Hex()))

	receipt, err := s.send(ctx, req, log)
	if err != nil {
		revert := clierr.RevertOf(err)
		fields := []zap.Field{zap.Error(err), zap.Int("code", int(req.Kind))}
		if revert != nil {
			fields = append(fields, zap.String("revert_data", revert.Data), zap.String("revert_reason", revert.Reason))
		}
		log.Error("transaction failed", fields...)
		if cliErr, ok := clierr.As(err); ok && cliErr.Code == req.Kind {
			return receipt, err
		}
		return receipt, clierr.Wrap(req.Kind, req.Label+" failed", err).WithRevert(revert)
	}
	log.Info("transaction confirmed",
		zap.String("tx_hash", receipt.TxHash),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.Uint64("block", receipt.BlockNumber),
	)
	return receipt, nil
}

func (s *Sender) send(ctx context.Context, req TxRequest, log *zap.Logger) (*Receipt, error) {
	from := s.signer.Address()
	msg := ethereum.CallMsg{From: from, To: &req.To, Value: req.Value, Data: req.Data}

	if s.opts.Simulate {
		if _, err := s.backend.CallContract(ctx, msg, nil); err != nil {
			simErr := clierr.Wrap(req.Kind, "simulate "+req.Label+" (eth_call)", err)
			if revert := chain.DecodeRevert(err); revert != nil {
				simErr = simErr.WithRevert(revert).MarkReverted()
			}
			return nil, simErr
		}
	}

	gasLimit := s.gasLimit(ctx, msg, log)

	tipCap, err := resolveTipCap(ctx, s.backend, s.opts.MaxPriorityFeeGwei)
	if err != nil {
		return nil, err
	}
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, s.opts.MaxFeeGwei)
	if err != nil {
		return nil, err
	}

	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &req.To,
		Value:     req.Value,
		Data:      req.Data,
	})
	signed, err := s.signer.SignTx(s.chainID, tx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err).WithRevert(chain.DecodeRevert(err))
	}
	log.Info("transaction submitted",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit),
	)

	receipt, err := s.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	summary := &Receipt{
		Label:    req.Label,
		TxHash:   signed.Hash().Hex(),
		GasLimit: gasLimit,
		GasUsed:  receipt.GasUsed,
		Status:   receipt.Status,
	}
	if receipt.BlockNumber != nil {
		summary.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		err := clierr.New(req.Kind, fmt.Sprintf("%s reverted on-chain (tx %s)", req.Label, summary.TxHash))
		return summary, err.WithRevert(s.replayRevert(ctx, msg, receipt.BlockNumber)).MarkReverted()
	}
	return summary, nil
}

// gasLimit applies the configured strategy. A failed estimate falls back to the fixed
// limit so the transaction still reaches the chain.
func (s *Sender) gasLimit(ctx context.Context, msg ethereum.CallMsg, log *zap.Logger) uint64 {
	if s.opts.GasStrategy == GasStrategyFixed {
		return s.opts.GasLimit
	}
	estimate, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		log.Warn("gas estimation failed, using fixed limit", zap.Uint64("gas_limit", s.opts.GasLimit), zap.Error(err))
		return s.opts.GasLimit
	}
	return estimate + s.opts.GasMargin
}

func (s *Sender) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		// not-found and transient polling errors are retried until the deadline
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt of "+hash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// replayRevert re-runs a mined, reverted call at its block to recover the reason.
func (s *Sender) replayRevert(ctx context.Context, msg ethereum.CallMsg, block *big.Int) *clierr.Revert {
	_, err := s.backend.CallContract(ctx, msg, block)
	if err == nil {
		return nil
	}
	return chain.DecodeRevert(err)
}
