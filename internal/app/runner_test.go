package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/v3swap/internal/chain/chaintest"
	"github.com/ggonzalez94/v3swap/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anvilKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	erc20ABI   = registry.MustABI(registry.ERC20ABI)
	factoryABI = registry.MustABI(registry.UniswapV3FactoryABI)
	poolABI    = registry.MustABI(registry.UniswapV3PoolABI)
	quoterABI  = registry.MustABI(registry.UniswapV3QuoterV2ABI)

	deploy, _ = registry.UniswapV3Deployment(31337)
	wethAddr  = common.HexToAddress(deploy.WETH9)
	daiAddr   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	poolAddr  = common.HexToAddress("0xC2e9F25Be6257c210d7Adf0D4Cd6E3E881ba25f8")
	wallet    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Data  hexutil.Bytes   `json:"data"`
}

// node serves the JSON-RPC subset read-only commands use, answering eth_call from contracts.
type node struct {
	chainID   string
	contracts *chaintest.Contracts
}

func (n *node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	reply := func(result any) {
		buf, _ := json.Marshal(result)
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, buf)
	}
	switch req.Method {
	case "eth_chainId":
		reply(n.chainID)
	case "eth_getBalance":
		reply(hexutil.EncodeBig(big.NewInt(2_000_000_000_000_000_000)))
	case "eth_call":
		var args callArgs
		if err := json.Unmarshal(req.Params[0], &args); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := args.Input
		if len(data) == 0 {
			data = args.Data
		}
		msg := ethereum.CallMsg{To: args.To, Data: data}
		if args.From != nil {
			msg.From = *args.From
		}
		out, err := n.contracts.CallContract(context.Background(), msg, nil)
		if err != nil {
			_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":%q}}`, req.ID, err.Error())
			return
		}
		reply(hexutil.Bytes(out))
	default:
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"unsupported"}}`, req.ID)
	}
}

// market is WETH/DAI in a 0.3% pool priced at 1502.5 DAI per WETH.
func market(withPool bool) *chaintest.Contracts {
	c := chaintest.NewContracts()
	c.Returns(wethAddr, erc20ABI, "decimals", uint8(18))
	c.Returns(wethAddr, erc20ABI, "symbol", "WETH")
	c.Returns(wethAddr, erc20ABI, "name", "Wrapped Ether")
	c.Returns(wethAddr, erc20ABI, "balanceOf", big.NewInt(500_000_000_000_000_000))
	c.Returns(daiAddr, erc20ABI, "decimals", uint8(18))
	c.Returns(daiAddr, erc20ABI, "symbol", "DAI")
	c.Returns(daiAddr, erc20ABI, "name", "Dai Stablecoin")
	c.Returns(daiAddr, erc20ABI, "balanceOf", big.NewInt(0))

	c.Handle(common.HexToAddress(deploy.Factory), factoryABI, "getPool", func(args []any) ([]any, error) {
		if !withPool || args[2].(*big.Int).Uint64() != 3000 || args[0].(common.Address) != wethAddr {
			return []any{common.Address{}}, nil
		}
		return []any{poolAddr}, nil
	})
	c.Returns(poolAddr, poolABI, "token0", daiAddr)
	c.Returns(poolAddr, poolABI, "token1", wethAddr)
	c.Returns(poolAddr, poolABI, "fee", big.NewInt(3000))
	c.Returns(poolAddr, poolABI, "liquidity", big.NewInt(0))
	c.Returns(poolAddr, poolABI, "slot0", new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(0), uint16(0), uint16(1), uint16(1), uint8(0), true)

	c.Handle(common.HexToAddress(deploy.Quoter), quoterABI, "quoteExactInputSingle", func(args []any) ([]any, error) {
		in := chaintest.Field(args[0], "AmountIn").(*big.Int)
		out := new(big.Int).Mul(in, big.NewInt(15025))
		out.Div(out, big.NewInt(10))
		return []any{out, big.NewInt(0), uint32(1), big.NewInt(90_000)}, nil
	})
	c.Handle(common.HexToAddress(deploy.Quoter), quoterABI, "quoteExactOutputSingle", func(args []any) ([]any, error) {
		out := chaintest.Field(args[0], "Amount").(*big.Int)
		in := new(big.Int).Mul(out, big.NewInt(10))
		in.Div(in, big.NewInt(15025))
		return []any{in, big.NewInt(0), uint32(1), big.NewInt(90_000)}, nil
	})
	return c
}

// isolate keeps the developer's config, key file and environment out of the run.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	for _, name := range []string{
		"V3SWAP_PRIVATE_KEY", "V3SWAP_PRIVATE_KEY_FILE", "V3SWAP_KEYSTORE_PATH",
		"V3SWAP_KEYSTORE_PASSWORD", "V3SWAP_KEYSTORE_PASSWORD_FILE",
		"V3SWAP_RPC_URL", "V3SWAP_CHAIN_ID", "V3SWAP_OUTPUT", "V3SWAP_SLIPPAGE",
	} {
		t.Setenv(name, "")
	}
}

func startNode(t *testing.T, chainID string, contracts *chaintest.Contracts) string {
	t.Helper()
	server := httptest.NewServer(&node{chainID: chainID, contracts: contracts})
	t.Cleanup(server.Close)
	return server.URL
}

func run(t *testing.T, args ...string) (int, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run(append(args, "--log-level", "error"))
	return code, &stdout, &stderr
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out), "output=%s", buf.String())
	return out
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("v3swap pool find"); got != "pool find" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	items := splitCSV("WETH, dai ,")
	if len(items) != 2 || items[0] != "WETH" || items[1] != "dai" {
		t.Fatalf("unexpected split: %#v", items)
	}
}

func TestRunnerVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run([]string{"version"})
	require.Equal(t, 0, code)
	assert.Equal(t, "0.1.0\n", stdout.String())
}

func TestRunnerUnknownFlagIsUsageError(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "quote", "--bogus")
	require.Equal(t, 2, code)
	assert.Empty(t, stdout.String())
	env := decode(t, stderr)
	assert.Equal(t, false, env["success"])
	assert.Equal(t, "usage_error", env["error"].(map[string]any)["type"])
}

func TestRunnerInvalidOutputModeFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("V3SWAP_OUTPUT", "xml")
	code, _, stderr := run(t, "balances")
	require.Equal(t, 2, code)
	env := decode(t, stderr)
	assert.Contains(t, env["error"].(map[string]any)["message"], "output must be")
}

func TestRunnerTokenInfo(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x7a69", market(true))
	code, stdout, stderr := run(t, "token", "info", "--token", "WETH", "--rpc-url", url)
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	env := decode(t, stdout)
	assert.Equal(t, true, env["success"])
	data := env["data"].(map[string]any)
	assert.Equal(t, "WETH", data["symbol"])
	assert.Equal(t, float64(18), data["decimals"])
	meta := env["meta"].(map[string]any)
	assert.Equal(t, "token info", meta["command"])
	assert.Equal(t, float64(31337), meta["chain_id"])
}

func TestRunnerQuoteAppliesSlippage(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x7a69", market(true))
	code, stdout, stderr := run(t, "quote", "--token-in", "WETH", "--token-out", "DAI",
		"--amount-decimal", "0.1", "--rpc-url", url, "--results-only")
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	data := decode(t, stdout)
	assert.Equal(t, float64(3000), data["fee"])
	assert.Equal(t, "150.25", data["amount_out"].(map[string]any)["decimal"])
	assert.Equal(t, "142.7375", data["minimum_out"].(map[string]any)["decimal"])
	assert.Equal(t, strings.ToLower(poolAddr.Hex()), strings.ToLower(data["pool"].(string)))
}

func TestRunnerQuoteExactOutput(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x7a69", market(true))
	code, stdout, stderr := run(t, "quote", "--token-in", "WETH", "--token-out", "DAI", "--fee", "3000",
		"--amount-decimal", "150.25", "--exact-output", "--slippage", "0.01", "--rpc-url", url, "--results-only")
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	data := decode(t, stdout)
	assert.Equal(t, "0.1", data["amount_in"].(map[string]any)["decimal"])
	assert.Equal(t, "0.101", data["maximum_in"].(map[string]any)["decimal"])
	assert.Nil(t, data["minimum_out"])
}

func TestRunnerPoolFindWarnsOnZeroLiquidity(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x7a69", market(true))
	code, stdout, stderr := run(t, "pool", "find", "--token-in", "WETH", "--token-out", "DAI", "--rpc-url", url)
	require.Equal(t, 0, code, "stderr=%s", stderr.String())

	env := decode(t, stdout)
	warnings := env["warnings"].([]any)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "zero in-range liquidity")
	assert.Equal(t, "1", env["data"].(map[string]any)["price"])
}

func TestRunnerNoPoolFound(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x7a69", market(false))
	code, stdout, stderr := run(t, "pool", "find", "--token-in", "WETH", "--token-out", "DAI", "--rpc-url", url, "--results-only")
	require.Equal(t, 21, code)
	assert.Empty(t, stdout.String())

	env := decode(t, stderr)
	assert.Equal(t, "no_pool_found", env["error"].(map[string]any)["type"])
	assert.Equal(t, "pool find", env["meta"].(map[string]any)["command"])
}

func TestRunnerChainIDMismatch(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x7a69", market(true))
	code, _, stderr := run(t, "token", "info", "--token", "WETH", "--rpc-url", url, "--chain-id", "1")
	require.Equal(t, 2, code)
	assert.Contains(t, decode(t, stderr)["error"].(map[string]any)["message"], "serves chain 31337")
}

func TestRunnerUnsupportedChain(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x3e7", market(true))
	code, _, stderr := run(t, "token", "info", "--token", daiAddr.Hex(), "--rpc-url", url)
	require.Equal(t, 13, code)
	assert.Equal(t, "unsupported", decode(t, stderr)["error"].(map[string]any)["type"])
}

func TestRunnerBalancesForExplicitWallet(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x7a69", market(true))
	code, stdout, stderr := run(t, "balances", "--wallet", wallet.Hex(), "--tokens", "WETH,DAI",
		"--rpc-url", url, "--results-only", "--select", "native.decimal")
	require.Equal(t, 0, code, "stderr=%s", stderr.String())
	assert.Equal(t, map[string]any{"native.decimal": "2"}, decode(t, stdout))
}

func TestRunnerBalancesWithoutSignerFails(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x7a69", market(true))
	code, _, stderr := run(t, "balances", "--rpc-url", url)
	require.Equal(t, 17, code)
	env := decode(t, stderr)
	assert.Equal(t, "signer_error", env["error"].(map[string]any)["type"])
}

func TestRunnerSwapDryRun(t *testing.T) {
	isolate(t)
	t.Setenv("V3SWAP_PRIVATE_KEY", anvilKey)
	url := startNode(t, "0x7a69", market(true))
	code, stdout, stderr := run(t, "swap", "--token-in", "WETH", "--token-out", "DAI",
		"--amount-decimal", "0.1", "--dry-run", "--rpc-url", url)
	require.Equal(t, 0, code, "stderr=%s", stderr.String())
	assert.NotContains(t, stdout.String(), anvilKey)

	env := decode(t, stdout)
	data := env["data"].(map[string]any)
	assert.Equal(t, true, data["dry_run"])
	assert.Equal(t, "150.25", data["quoted_out"])
	assert.Equal(t, "142.7375", data["minimum_out"].(map[string]any)["decimal"])
	assert.Nil(t, data["swap"])
	assert.Nil(t, data["approval"])
	assert.Equal(t, wallet.Hex(), env["meta"].(map[string]any)["wallet"])
}

func TestRunnerErrorEnvelopeYAML(t *testing.T) {
	isolate(t)
	url := startNode(t, "0x7a69", market(false))
	code, _, stderr := run(t, "pool", "find", "--token-in", "WETH", "--token-out", "DAI", "--rpc-url", url, "-o", "yaml")
	require.Equal(t, 21, code)
	assert.Contains(t, stderr.String(), "type: no_pool_found")
	assert.Contains(t, stderr.String(), "success: false")
}

func TestRunnerEnableCommandsBlocksTransactions(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "wrap", "--amount", "1", "--enable-commands", "read-only")
	require.Equal(t, 16, code)
	assert.Equal(t, "command_blocked", decode(t, stderr)["error"].(map[string]any)["type"])
}

func TestRunnerEnableCommandsAdmitsDryRunSwap(t *testing.T) {
	isolate(t)
	t.Setenv("V3SWAP_PRIVATE_KEY", anvilKey)
	url := startNode(t, "0x7a69", market(true))
	code, _, stderr := run(t, "swap", "--token-in", "WETH", "--token-out", "DAI", "--amount-decimal", "0.1",
		"--dry-run", "--rpc-url", url, "--enable-commands", "read-only")
	require.Equal(t, 0, code, "stderr=%s", stderr.String())
}

func TestRunnerSchemaMarksTransactingCommands(t *testing.T) {
	code, stdout, stderr := run(t, "schema", "swap")
	require.Equal(t, 0, code, "stderr=%s", stderr.String())
	data := decode(t, stdout)["data"].(map[string]any)
	assert.Equal(t, true, data["transacts"])
	assert.Equal(t, "v3swap swap", data["path"])
}
