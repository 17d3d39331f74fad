package port

import (
	"context"
	"math/big"

	"reserve_tracker/internal/domain/entity"
)

// EVMChainClient defines the read-only operations the fetchers need from an EVM chain.
// Every method goes through the chain's rate limiter and returns classified errors.
type EVMChainClient interface {
	// Multicall executes calls as one aggregate3 round trip; each slot may fail independently.
	Multicall(ctx context.Context, calls []entity.ContractCall) ([]entity.CallResult, error)

	// BlockNumber returns the latest block height.
	BlockNumber(ctx context.Context) (uint64, error)

	// SubscribeNewHeads streams new block heights until ctx is done.
	// Implementations without push support return an error so the caller can fall back to polling.
	SubscribeNewHeads(ctx context.Context, heights chan<- uint64) error

	// Definition returns the network definition associated with this client.
	Definition() entity.NetworkDefinition
}

// UTXOBalanceSource is one block-explorer API able to report an address balance.
type UTXOBalanceSource interface {
	Name() string
	// GetAddressBalance returns the confirmed balance in base units (satoshis).
	GetAddressBalance(ctx context.Context, address string) (*big.Int, error)
	// TipHeight returns the current best block height.
	TipHeight(ctx context.Context) (uint64, error)
}

// BlockchainClientProvider owns one long-lived client per chain.
type BlockchainClientProvider interface {
	EVMClient(chain entity.Chain) (EVMChainClient, error)
	UTXOSources(chain entity.Chain) ([]UTXOBalanceSource, error)
}

// NetworkDefinitionProvider defines the interface for providing network definitions.
type NetworkDefinitionProvider interface {
	// GetAllNetworkDefinitions returns all active network definitions.
	GetAllNetworkDefinitions() []entity.NetworkDefinition

	// GetNetworkDefinition returns a specific network definition by chain.
	GetNetworkDefinition(chain entity.Chain) (entity.NetworkDefinition, bool)
}

// BlockSource produces new block heights for one chain.
type BlockSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	// Watch publishes heights into out until ctx is done. Sends never block.
	Watch(ctx context.Context, out chan<- uint64)
}
