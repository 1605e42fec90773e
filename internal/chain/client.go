package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

//go:generate mockgen -source=client.go -destination=mock/backend.go -package=mock

// Backend is the subset of an Ethereum JSON-RPC client used by a swap run.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client wraps go-ethereum RPC and implements Backend.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	url       string
}

var _ Backend = (*Client)(nil)

// Dial connects to the RPC endpoint. HTTP, WebSocket and IPC URLs are accepted.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "rpc.DialContext")
	}
	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		url:       rpcURL,
	}, nil
}

// URL returns the endpoint the client was dialed with.
func (c *Client) URL() string { return c.url }

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.ethClient.ChainID(ctx)
	return id, errors.Wrap(err, "eth_chainId")
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	out, err := c.ethClient.CallContract(ctx, msg, blockNumber)
	return out, errors.Wrap(err, "eth_call")
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	bal, err := c.ethClient.BalanceAt(ctx, account, blockNumber)
	return bal, errors.Wrap(err, "eth_getBalance")
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.ethClient.EstimateGas(ctx, msg)
	return gas, errors.Wrap(err, "eth_estimateGas")
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	tip, err := c.ethClient.SuggestGasTipCap(ctx)
	return tip, errors.Wrap(err, "eth_maxPriorityFeePerGas")
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	header, err := c.ethClient.HeaderByNumber(ctx, number)
	return header, errors.Wrap(err, "eth_getBlockByNumber")
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.ethClient.PendingNonceAt(ctx, account)
	return nonce, errors.Wrap(err, "eth_getTransactionCount")
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return errors.Wrap(c.ethClient.SendTransaction(ctx, tx), "eth_sendRawTransaction")
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.ethClient.TransactionReceipt(ctx, txHash)
	return receipt, errors.Wrap(err, "eth_getTransactionReceipt")
}
