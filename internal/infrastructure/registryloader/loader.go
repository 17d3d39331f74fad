// Package registryloader reads and validates the static reserve registry file.
package registryloader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/pkg/utils"
)

// File is the on-disk shape of registry.yaml.
type File struct {
	Addresses                  []entity.ReserveAddressConfig `yaml:"addresses"`
	Assets                     []entity.AssetConfig          `yaml:"assets"`
	Stablecoins                []entity.StablecoinToken      `yaml:"stablecoins"`
	ReserveControlledAddresses []string                      `yaml:"reserveControlledAddresses"`
}

var knownChains = map[entity.Chain]entity.ChainKind{
	entity.ChainEthereum: entity.ChainKindEVM,
	entity.ChainBase:     entity.ChainKindEVM,
	entity.ChainBitcoin:  entity.ChainKindUTXO,
}

var knownCategories = []entity.AddressCategory{
	entity.CategoryHolding,
	entity.CategoryLiquidityPosition,
	entity.CategoryLendingDeposit,
}

// Load reads path and validates it. Any validation problem is returned, joined, and is
// meant to stop the process at startup.
func Load(path string, logger port.Logger) (*File, error) {
	logger.Debug("Loading reserve registry", "path", path)
	var f File
	if err := utils.LoadYAMLFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry %s: %w", path, err)
	}
	logger.Info("Reserve registry loaded",
		"path", path,
		"addresses", len(f.Addresses),
		"assets", len(f.Assets),
		"stablecoins", len(f.Stablecoins))
	return &f, nil
}

// Validate checks chains, categories, asset references and address formats.
// A category a chain cannot serve is accepted here; the pipeline skips it at runtime.
func (f *File) Validate() error {
	var errs []error

	assets := make(map[string]entity.AssetConfig, len(f.Assets))
	for i, a := range f.Assets {
		if a.Symbol == "" {
			errs = append(errs, fmt.Errorf("assets[%d]: missing symbol", i))
			continue
		}
		if _, dup := assets[a.Symbol]; dup {
			errs = append(errs, fmt.Errorf("assets[%d]: duplicate symbol %s", i, a.Symbol))
		}
		if a.ContractAddress != "" && !common.IsHexAddress(a.ContractAddress) {
			errs = append(errs, fmt.Errorf("asset %s: malformed contract address %q", a.Symbol, a.ContractAddress))
		}
		switch a.PriceSource {
		case "", entity.PriceSourceMarket, entity.PriceSourceIndex:
		case entity.PriceSourceFiat:
			if a.FiatCurrency == "" {
				errs = append(errs, fmt.Errorf("asset %s: fiat price source needs fiatCurrency", a.Symbol))
			}
		default:
			errs = append(errs, fmt.Errorf("asset %s: unknown price source %q", a.Symbol, a.PriceSource))
		}
		assets[a.Symbol] = a
	}

	for i, addr := range f.Addresses {
		kind, ok := knownChains[addr.Chain]
		if !ok {
			errs = append(errs, fmt.Errorf("addresses[%d]: unknown chain %q", i, addr.Chain))
			continue
		}
		if !lo.Contains(knownCategories, addr.Category) {
			errs = append(errs, fmt.Errorf("addresses[%d]: unknown category %q", i, addr.Category))
		}
		if err := validateAddress(kind, addr.Address); err != nil {
			errs = append(errs, fmt.Errorf("addresses[%d]: %w", i, err))
		}
		if len(addr.Assets) == 0 {
			errs = append(errs, fmt.Errorf("addresses[%d]: no assets listed", i))
		}
		for _, sym := range addr.Assets {
			if _, ok := assets[sym]; !ok {
				errs = append(errs, fmt.Errorf("addresses[%d]: %w: %s", i, entity.ErrUnknownAsset, sym))
			}
		}
	}

	for i, s := range f.Stablecoins {
		if knownChains[s.Chain] != entity.ChainKindEVM {
			errs = append(errs, fmt.Errorf("stablecoins[%d]: %s is not an EVM chain", i, s.Chain))
		}
		if !common.IsHexAddress(s.ContractAddress) {
			errs = append(errs, fmt.Errorf("stablecoins[%d]: malformed contract address %q", i, s.ContractAddress))
		}
		for _, dead := range s.DeadAddresses {
			if !common.IsHexAddress(dead) {
				errs = append(errs, fmt.Errorf("stablecoins[%d]: malformed dead address %q", i, dead))
			}
		}
	}

	for _, a := range f.ReserveControlledAddresses {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Errorf("reserveControlledAddresses: malformed address %q", a))
		}
	}

	return errors.Join(errs...)
}

func validateAddress(kind entity.ChainKind, address string) error {
	if kind == entity.ChainKindEVM {
		if !common.IsHexAddress(address) {
			return fmt.Errorf("malformed EVM address %q", address)
		}
		return nil
	}
	if strings.TrimSpace(address) == "" || strings.HasPrefix(address, "0x") {
		return fmt.Errorf("malformed UTXO address %q", address)
	}
	return nil
}
