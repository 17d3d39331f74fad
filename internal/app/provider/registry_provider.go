package provider

import (
	"strings"

	"github.com/samber/lo"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/infrastructure/registryloader"
)

type registryProviderImpl struct {
	addresses         []entity.ReserveAddressConfig
	addressesByChain  map[entity.Chain][]entity.ReserveAddressConfig
	assets            map[string]entity.AssetConfig
	stablecoins       []entity.StablecoinToken
	reserveControlled []string
}

// LoadRegistry reads the registry file and returns an immutable port.Registry over it.
// Load or validation errors are fatal at startup.
func LoadRegistry(path string, logger port.Logger) (port.Registry, error) {
	f, err := registryloader.Load(path, logger)
	if err != nil {
		logger.Error("Failed to load registry", "path", path, "error", err)
		return nil, err
	}
	return NewRegistry(f), nil
}

// NewRegistry indexes an already validated registry file.
func NewRegistry(f *registryloader.File) port.Registry {
	addrs := make([]entity.ReserveAddressConfig, len(f.Addresses))
	copy(addrs, f.Addresses)
	return &registryProviderImpl{
		addresses:         addrs,
		addressesByChain:  lo.GroupBy(addrs, func(a entity.ReserveAddressConfig) entity.Chain { return a.Chain }),
		assets:            lo.KeyBy(f.Assets, func(a entity.AssetConfig) string { return a.Symbol }),
		stablecoins:       append([]entity.StablecoinToken(nil), f.Stablecoins...),
		reserveControlled: lo.Map(f.ReserveControlledAddresses, func(a string, _ int) string { return strings.ToLower(a) }),
	}
}

func (p *registryProviderImpl) Addresses() []entity.ReserveAddressConfig {
	return append([]entity.ReserveAddressConfig(nil), p.addresses...)
}

func (p *registryProviderImpl) AddressesForChain(chain entity.Chain) []entity.ReserveAddressConfig {
	return append([]entity.ReserveAddressConfig(nil), p.addressesByChain[chain]...)
}

func (p *registryProviderImpl) Asset(symbol string) (entity.AssetConfig, bool) {
	a, ok := p.assets[symbol]
	return a, ok
}

func (p *registryProviderImpl) Stablecoins() []entity.StablecoinToken {
	return append([]entity.StablecoinToken(nil), p.stablecoins...)
}

// ReserveControlledAddresses returns the addresses lower-cased.
func (p *registryProviderImpl) ReserveControlledAddresses() []string {
	return append([]string(nil), p.reserveControlled...)
}
