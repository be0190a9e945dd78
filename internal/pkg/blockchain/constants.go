// Package blockchain holds chain-level constants shared by the multicall packages.
package blockchain

import "github.com/ethereum/go-ethereum/common"

const (
	// Multicall3Address is the CREATE2 deployment of Multicall3, present on most EVM chains.
	Multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"
	// Multicall2Address is the mainnet Multicall2 deployment. It predates Multicall3
	// and exposes the same tryAggregate function.
	Multicall2Address = "0x5BA1e12693Dc8F9c48aAD8770482f4739bEeD696"

	// DefaultGasLimit is sent with every eth_call. Nodes reject calls above their
	// own cap, so a batch that needs more gas than this must be split.
	DefaultGasLimit uint64 = 55_000_000

	BlockTagLatest    = "latest"
	BlockTagFinalized = "finalized"
)

var (
	Multicall3 = common.HexToAddress(Multicall3Address)
	Multicall2 = common.HexToAddress(Multicall2Address)
)
