package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/approve"
	"github.com/ggonzalez94/v3swap/internal/balance"
	"github.com/ggonzalez94/v3swap/internal/chain"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/execution/signer"
	"github.com/ggonzalez94/v3swap/internal/pool"
	"github.com/ggonzalez94/v3swap/internal/quote"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"github.com/ggonzalez94/v3swap/internal/swap"
	"github.com/ggonzalez94/v3swap/internal/token"
	"github.com/ggonzalez94/v3swap/internal/wrap"
	"go.uber.org/zap"
)

// contracts are the resolved periphery addresses for the connected chain.
type contracts struct {
	Factory common.Address
	Quoter  common.Address
	Router  common.Address
	WETH    common.Address
}

// session is the chain connection of one command plus the components built on it.
type session struct {
	client    *chain.Client
	chainID   int64
	contracts contracts
	signer    signer.Signer
	sender    *execution.Sender
	lock      *execution.WalletLock
	log       *zap.Logger
}

func (sess *session) close() {
	if sess.lock != nil {
		_ = sess.lock.Unlock()
	}
	if sess.client != nil {
		sess.client.Close()
	}
}

// connect dials the endpoint, detects the chain and resolves the contract deployment.
func (s *runtimeState) connect(ctx context.Context) (*session, error) {
	if s.session != nil {
		return s.session, nil
	}
	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, s.settings.ChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc endpoint", err)
	}
	client, err := chain.Dial(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect to rpc", err)
	}
	sess := &session{client: client, log: s.log}
	s.session = sess

	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	sess.chainID = id.Int64()
	if s.settings.ChainID != 0 && s.settings.ChainID != sess.chainID {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("rpc endpoint serves chain %d, expected %d", sess.chainID, s.settings.ChainID))
	}

	base, known := registry.UniswapV3Deployment(sess.chainID)
	deployment := base.Merge(s.settings.Contracts)
	if missing := deployment.Missing(); len(missing) > 0 {
		msg := fmt.Sprintf("chain %d has no Uniswap V3 deployment in the registry; set %v", sess.chainID, missing)
		if known {
			msg = fmt.Sprintf("chain %d deployment is missing %v", sess.chainID, missing)
		}
		return nil, clierr.New(clierr.CodeUnsupported, msg)
	}
	resolved, err := parseDeployment(deployment)
	if err != nil {
		return nil, err
	}
	sess.contracts = resolved
	sess.log = s.log.With(zap.Int64("chain_id", sess.chainID))
	sess.log.Debug("connected",
		zap.String("rpc", client.URL()),
		zap.String("factory", resolved.Factory.Hex()),
		zap.String("quoter", resolved.Quoter.Hex()),
		zap.String("router", resolved.Router.Hex()),
		zap.String("weth", resolved.WETH.Hex()),
	)
	return sess, nil
}

func parseDeployment(d registry.Deployment) (contracts, error) {
	var c contracts
	fields := []struct {
		name  string
		value string
		dst   *common.Address
	}{
		{"factory", d.Factory, &c.Factory},
		{"quoter", d.Quoter, &c.Quoter},
		{"router", d.Router, &c.Router},
		{"weth", d.WETH9, &c.WETH},
	}
	for _, f := range fields {
		if !common.IsHexAddress(f.value) {
			return contracts{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s address %q is not a valid EVM address", f.name, f.value))
		}
		*f.dst = common.HexToAddress(f.value)
	}
	return c, nil
}

// loadSigner reads the wallet key. The key itself never reaches logs or errors.
func (s *runtimeState) loadSigner(sess *session) (signer.Signer, error) {
	if sess.signer != nil {
		return sess.signer, nil
	}
	txSigner, err := signer.NewLocalSignerFromEnv(s.settings.KeySource)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	sess.signer = txSigner
	sess.log = sess.log.With(zap.String("wallet", txSigner.Address().Hex()))
	return txSigner, nil
}

// transact prepares sess for submitting transactions: signer, sender and wallet lock.
func (s *runtimeState) transact(ctx context.Context, sess *session) (*execution.Sender, error) {
	if sess.sender != nil {
		return sess.sender, nil
	}
	txSigner, err := s.loadSigner(sess)
	if err != nil {
		return nil, err
	}
	lock, err := execution.LockWallet(ctx, s.settings.LockDir, txSigner.Address(), s.settings.Timeout)
	if err != nil {
		return nil, err
	}
	sess.lock = lock
	sess.sender = execution.NewSender(sess.client, txSigner, big.NewInt(sess.chainID), s.senderOptions(), sess.log)
	return sess.sender, nil
}

func (s *runtimeState) senderOptions() execution.Options {
	opts := execution.DefaultOptions()
	opts.Simulate = s.settings.Simulate
	opts.GasStrategy = s.settings.GasStrategy
	opts.GasMargin = s.settings.GasMargin
	opts.GasLimit = s.settings.GasLimit
	opts.MaxFeeGwei = s.settings.MaxFeeGwei
	opts.MaxPriorityFeeGwei = s.settings.MaxPriorityFeeGwei
	opts.ReceiptTimeout = s.settings.ReceiptTimeout
	return opts
}

func (s *runtimeState) swapOptions() swap.Options {
	opts := swap.DefaultOptions()
	opts.Slippage = s.settings.Slippage
	opts.Deadline = s.settings.Deadline
	opts.ExactOutputFallback = s.settings.ExactOutputFallback
	return opts
}

func (sess *session) resolver() *token.Resolver {
	return token.NewResolver(sess.client, sess.chainID, sess.log)
}

func (sess *session) balances() *balance.Reporter {
	return balance.NewReporter(sess.client, sess.log)
}

func (sess *session) locator() *pool.Locator {
	return pool.NewLocator(sess.client, sess.contracts.Factory, sess.log)
}

func (sess *session) quoter() *quote.Quoter {
	return quote.New(sess.client, sess.contracts.Quoter, sess.log)
}

func (sess *session) wrapper() *wrap.Wrapper {
	return wrap.New(sess.contracts.WETH, sess.sender, sess.log)
}

func (sess *session) approver(resetFirst bool) *approve.Approver {
	return approve.New(sess.client, sess.sender, resetFirst, sess.log)
}
