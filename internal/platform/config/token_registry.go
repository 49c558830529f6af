package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenInfo contains settlement token metadata
type TokenInfo struct {
	Symbol   string
	Address  common.Address
	Decimals int
}

// NativeTokenAddress is the sentinel used for the chain's native currency
var NativeTokenAddress = common.HexToAddress("0x000000000000000000000000000000000000EEEe")

// TokenRegistry maps well-known settlement token symbols to mainnet addresses
var TokenRegistry = map[string]TokenInfo{
	"ETH": {
		Symbol:   "ETH",
		Address:  NativeTokenAddress,
		Decimals: 18,
	},
	"WETH": {
		Symbol:   "WETH",
		Address:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Decimals: 18,
	},
	"USDC": {
		Symbol:   "USDC",
		Address:  common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Decimals: 6,
	},
	"USDT": {
		Symbol:   "USDT",
		Address:  common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
		Decimals: 6,
	},
	"DAI": {
		Symbol:   "DAI",
		Address:  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		Decimals: 18,
	},
}

// ResolveToken accepts a symbol from TokenRegistry (case-insensitive) or a hex
// address. Unknown addresses resolve with 18 decimals.
func ResolveToken(s string) (TokenInfo, error) {
	if info, ok := TokenRegistry[strings.ToUpper(s)]; ok {
		return info, nil
	}

	if !common.IsHexAddress(s) {
		return TokenInfo{}, fmt.Errorf("unknown token: %s (expected a symbol like ETH or USDC, or an address)", s)
	}

	addr := common.HexToAddress(s)
	for _, info := range TokenRegistry {
		if info.Address == addr {
			return info, nil
		}
	}
	return TokenInfo{Symbol: addr.Hex(), Address: addr, Decimals: 18}, nil
}
