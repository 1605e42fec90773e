package token

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/v3swap/internal/chain"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Token is ERC-20 metadata read fresh each run.
type Token struct {
	ChainID  int64          `json:"chain_id"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

var (
	erc20ABI   = registry.MustABI(registry.ERC20ABI)
	bytes32ABI = registry.MustABI(registry.ERC20Bytes32MetadataABI)
)

type Resolver struct {
	caller  chain.Caller
	chainID int64
	log     *zap.Logger
}

func NewResolver(caller chain.Caller, chainID int64, log *zap.Logger) *Resolver {
	return &Resolver{caller: caller, chainID: chainID, log: logging.OrNop(log)}
}

// Resolve reads decimals, symbol and name concurrently. Any failed read fails the whole
// resolution with MetadataUnavailable.
func (r *Resolver) Resolve(ctx context.Context, address common.Address) (Token, error) {
	tok := Token{ChainID: r.chainID, Address: address}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		values, err := chain.Call(gctx, r.caller, erc20ABI, common.Address{}, address, "decimals")
		if err != nil {
			return err
		}
		d, ok := values[0].(uint8)
		if !ok {
			return fmt.Errorf("decimals: unexpected type %T", values[0])
		}
		tok.Decimals = d
		return nil
	})
	g.Go(func() error {
		s, err := r.readText(gctx, address, "symbol")
		tok.Symbol = s
		return err
	})
	g.Go(func() error {
		n, err := r.readText(gctx, address, "name")
		tok.Name = n
		return err
	})
	if err := g.Wait(); err != nil {
		r.log.Error("token metadata read failed", zap.String("token", address.Hex()), zap.Error(err))
		return Token{}, clierr.Wrap(clierr.CodeMetadataUnavailable, fmt.Sprintf("token metadata unavailable for %s", address.Hex()), err)
	}

	r.log.Debug("token resolved",
		zap.String("token", address.Hex()),
		zap.String("symbol", tok.Symbol),
		zap.Uint8("decimals", tok.Decimals),
	)
	return tok, nil
}

// ResolvePair resolves both sides of a swap.
func (r *Resolver) ResolvePair(ctx context.Context, in, out common.Address) (Token, Token, error) {
	if in == out {
		return Token{}, Token{}, clierr.New(clierr.CodeUsage, "token in and token out must differ")
	}
	tokenIn, err := r.Resolve(ctx, in)
	if err != nil {
		return Token{}, Token{}, err
	}
	tokenOut, err := r.Resolve(ctx, out)
	if err != nil {
		return Token{}, Token{}, err
	}
	return tokenIn, tokenOut, nil
}

// readText reads a string metadata field, retrying with the bytes32 ABI used by legacy
// tokens.
func (r *Resolver) readText(ctx context.Context, address common.Address, method string) (string, error) {
	values, err := chain.Call(ctx, r.caller, erc20ABI, common.Address{}, address, method)
	if err == nil {
		if s, ok := values[0].(string); ok {
			return s, nil
		}
	}
	values, err32 := chain.Call(ctx, r.caller, bytes32ABI, common.Address{}, address, method)
	if err32 != nil {
		if err == nil {
			err = err32
		}
		return "", err
	}
	return bytes32ToString(values[0], method)
}

func bytes32ToString(value any, method string) (string, error) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), nil
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), nil
	default:
		return "", fmt.Errorf("%s: unexpected type %T", method, value)
	}
}
