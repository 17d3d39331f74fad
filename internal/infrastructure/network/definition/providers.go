package networkdefinition

import (
	"fmt"
	"time"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/configloader"
)

// NetworkDefinitionProvider provides network definitions.
type NetworkDefinitionProvider struct {
	logger            port.Logger
	allNetworkDefs    map[entity.Chain]entity.NetworkDefinition
	activeNetworkDefs []entity.NetworkDefinition
}

// Predefined network definitions. RPC endpoints come from configuration; the public
// endpoints listed here only serve as fallbacks.
var ( //nolint:gochecknoglobals // Global for definitions
	Ethereum = entity.NetworkDefinition{
		Chain:             entity.ChainEthereum,
		Kind:              entity.ChainKindEVM,
		ChainID:           1,
		Name:              "Ethereum Mainnet",
		NativeSymbol:      "ETH",
		Decimals:          18,
		FallbackRPCURLs:   []string{"https://ethereum-rpc.publicnode.com", "https://rpc.ankr.com/eth"},
		AvgBlockInterval:  12 * time.Second,
		BlockExplorerURL:  "https://etherscan.io",
		IndexPriceChainID: "ethereum",
	}
	Base = entity.NetworkDefinition{
		Chain:             entity.ChainBase,
		Kind:              entity.ChainKindEVM,
		ChainID:           8453,
		Name:              "Base Mainnet",
		NativeSymbol:      "ETH",
		Decimals:          18,
		FallbackRPCURLs:   []string{"https://base.publicnode.com", "https://base.llamarpc.com"},
		AvgBlockInterval:  2 * time.Second,
		BlockExplorerURL:  "https://basescan.org",
		IndexPriceChainID: "base",
	}
	Bitcoin = entity.NetworkDefinition{
		Chain:             entity.ChainBitcoin,
		Kind:              entity.ChainKindUTXO,
		Name:              "Bitcoin",
		NativeSymbol:      "BTC",
		Decimals:          8,
		AvgBlockInterval:  10 * time.Minute,
		BlockExplorerURL:  "https://mempool.space",
		IndexPriceChainID: "bitcoin",
	}
)

// allKnownDefinitions is a helper to quickly access all hardcoded definitions.
var allKnownDefinitions = map[entity.Chain]entity.NetworkDefinition{
	Ethereum.Chain: Ethereum,
	Base.Chain:     Base,
	Bitcoin.Chain:  Bitcoin,
}

// NewNetworkDefinitionProvider activates the definitions of chains, overlaying the
// endpoints from cfg. An active EVM chain without a configured rpcURL is an error.
func NewNetworkDefinitionProvider(log port.Logger, cfg *configloader.Config, chains []entity.Chain) (*NetworkDefinitionProvider, error) {
	p := &NetworkDefinitionProvider{
		logger:            log,
		allNetworkDefs:    allKnownDefinitions,
		activeNetworkDefs: make([]entity.NetworkDefinition, 0, len(chains)),
	}

	seen := make(map[entity.Chain]struct{}, len(chains))
	for _, chain := range chains {
		if _, dup := seen[chain]; dup {
			continue
		}
		seen[chain] = struct{}{}

		def, ok := p.allNetworkDefs[chain]
		if !ok {
			return nil, fmt.Errorf("no network definition for chain %q", chain)
		}
		if def.Kind == entity.ChainKindEVM {
			node, ok := cfg.Network(string(chain))
			if !ok || node.RPCURL == "" {
				return nil, fmt.Errorf("chain %s: %w", chain, configloader.ErrMissingRPCURL)
			}
			def.PrimaryRPCURL = node.RPCURL
			def.WebsocketURL = node.WSURL
			def.FallbackRPCURLs = append(append([]string{}, node.FallbackRPCURLs...), def.FallbackRPCURLs...)
		}
		p.activeNetworkDefs = append(p.activeNetworkDefs, def)
		p.logger.Debug("Network activated", "network", def.Name, "chain", def.Chain, "kind", def.Kind, "ws", def.WebsocketURL != "")
	}

	p.logger.Info(fmt.Sprintf("NetworkDefinitionProvider initialized. Active networks: %d", len(p.activeNetworkDefs)))
	return p, nil
}

// GetAllNetworkDefinitions returns the list of active (tracked) network definitions.
func (p *NetworkDefinitionProvider) GetAllNetworkDefinitions() []entity.NetworkDefinition {
	if p == nil {
		return []entity.NetworkDefinition{}
	}
	defsCopy := make([]entity.NetworkDefinition, len(p.activeNetworkDefs))
	copy(defsCopy, p.activeNetworkDefs)
	return defsCopy
}

// GetNetworkDefinition returns a specific network definition by chain if it's active.
func (p *NetworkDefinitionProvider) GetNetworkDefinition(chain entity.Chain) (entity.NetworkDefinition, bool) {
	if p == nil {
		return entity.NetworkDefinition{}, false
	}
	for _, def := range p.activeNetworkDefs {
		if def.Chain == chain {
			return def, true
		}
	}
	return entity.NetworkDefinition{}, false
}
