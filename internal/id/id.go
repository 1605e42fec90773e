package id

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
)

// WrappedNativeSymbol resolves to the deployment's WETH9 on every chain.
const WrappedNativeSymbol = "WETH"

// Small bootstrap registry so common tokens can be passed by symbol.
var tokensByChainID = map[int64]map[string]string{
	1: {
		"USDC": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"USDT": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		"DAI":  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		"WBTC": "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599",
		"UNI":  "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
	},
	31337: {
		"USDC": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"USDT": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		"DAI":  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		"WBTC": "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599",
		"UNI":  "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
	},
	42161: {
		"USDC": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		"USDT": "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9",
		"DAI":  "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	},
	10: {
		"USDC": "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		"DAI":  "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	},
	137: {
		"USDC": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		"DAI":  "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
	},
}

// ParseToken resolves a token argument to an address. It accepts a hex address, the
// wrapped-native symbol, or a symbol from the bootstrap registry for chainID.
func ParseToken(input string, chainID int64, wrappedNative common.Address) (common.Address, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return common.Address{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	if strings.HasPrefix(strings.ToLower(value), "0x") {
		if !common.IsHexAddress(value) {
			return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid token address %q", value))
		}
		return common.HexToAddress(value), nil
	}
	symbol := strings.ToUpper(value)
	if symbol == WrappedNativeSymbol || symbol == "WMATIC" || symbol == "WPOL" {
		if wrappedNative == (common.Address{}) {
			return common.Address{}, clierr.New(clierr.CodeUsage, "wrapped native token address is not configured")
		}
		return wrappedNative, nil
	}
	if addr, ok := tokensByChainID[chainID][symbol]; ok {
		return common.HexToAddress(addr), nil
	}
	return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown token symbol %q on chain %d; pass the token address", value, chainID))
}

// ParseAddress validates a required EVM address flag.
func ParseAddress(flag, input string) (common.Address, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s is required", flag))
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s must be a valid EVM address", flag))
	}
	return common.HexToAddress(value), nil
}
