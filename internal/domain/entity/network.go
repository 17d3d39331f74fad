package entity

import "time"

// Chain identifies a ledger network tracked by the reserve.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainBase     Chain = "base"
	ChainBitcoin  Chain = "bitcoin"
)

// ChainKind separates account-model EVM chains from UTXO chains.
type ChainKind string

const (
	ChainKindEVM  ChainKind = "evm"
	ChainKindUTXO ChainKind = "utxo"
)

// NetworkDefinition holds the configuration for a specific ledger network.
// This structure is defined at the domain level to be used across application and infrastructure layers.
type NetworkDefinition struct {
	Chain            Chain         `json:"chain" yaml:"chain"`
	Kind             ChainKind     `json:"kind" yaml:"kind"`
	ChainID          uint64        `json:"chainId" yaml:"chainId"`
	Name             string        `json:"name" yaml:"name"`
	NativeSymbol     string        `json:"nativeSymbol" yaml:"nativeSymbol"`
	Decimals         int32         `json:"decimals" yaml:"decimals"`
	PrimaryRPCURL    string        `json:"primaryRpcUrl" yaml:"primaryRpcUrl"`
	FallbackRPCURLs  []string      `json:"fallbackRpcUrls" yaml:"fallbackRpcUrls"`
	WebsocketURL     string        `json:"websocketUrl,omitempty" yaml:"websocketUrl,omitempty"`
	AvgBlockInterval time.Duration `json:"avgBlockInterval" yaml:"avgBlockInterval"`
	BlockExplorerURL string        `json:"blockExplorerUrl,omitempty" yaml:"blockExplorerUrl,omitempty"`
	// IndexPriceChainID is the chain prefix used by the asset-index price API ("ethereum", "base").
	IndexPriceChainID string `json:"indexPriceChainId,omitempty" yaml:"indexPriceChainId,omitempty"`
}

// ZeroAddress represents the Ethereum zero address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"
