package registry

import (
	"fmt"
	"strings"
)

// LocalRPCURL is the endpoint of a local test node (anvil / hardhat).
const LocalRPCURL = "http://127.0.0.1:8545"

// Public EVM RPC endpoints by chain ID, used when --chain-id is given without --rpc-url.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	137:   "https://polygon-rpc.com",
	42161: "https://arb1.arbitrum.io/rpc",
	31337: LocalRPCURL,
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

// ResolveRPCURL picks the override, then the chain default, then the local node when no
// chain was requested.
func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if chainID == 0 {
		return LocalRPCURL, nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}
