// Package chain talks to EVM chains: it submits reward-token mints and
// burns, reads stablecoin balances and derives proxy addresses.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network is a chain the engine knows how to reach. Domain is the
// chain's CCTP domain number used by bridge providers.
type Network struct {
	Name         string
	ChainID      int64
	USDC         common.Address
	USDCDecimals int32
	Domain       uint32
}

var networks = map[string]Network{
	"ethereum": {
		Name:         "ethereum",
		ChainID:      1,
		USDC:         common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		USDCDecimals: 6,
		Domain:       0,
	},
	"optimism": {
		Name:         "optimism",
		ChainID:      10,
		USDC:         common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
		USDCDecimals: 6,
		Domain:       2,
	},
	"arbitrum": {
		Name:         "arbitrum",
		ChainID:      42161,
		USDC:         common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
		USDCDecimals: 6,
		Domain:       3,
	},
	"base": {
		Name:         "base",
		ChainID:      8453,
		USDC:         common.HexToAddress("0x833589fCD6eDb6E08f4c3C32D4f71b54bdA02913"),
		USDCDecimals: 6,
		Domain:       6,
	},
	"polygon": {
		Name:         "polygon",
		ChainID:      137,
		USDC:         common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
		USDCDecimals: 6,
		Domain:       7,
	},
}

// Lookup returns the named network. Names are case-insensitive.
func Lookup(name string) (Network, bool) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	return n, ok
}
