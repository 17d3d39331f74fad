package port

import "reserve_tracker/internal/domain/entity"

// Registry exposes the static reserve registry. It is immutable after startup.
type Registry interface {
	Addresses() []entity.ReserveAddressConfig
	AddressesForChain(chain entity.Chain) []entity.ReserveAddressConfig
	Asset(symbol string) (entity.AssetConfig, bool)
	Stablecoins() []entity.StablecoinToken
	// ReserveControlledAddresses lists EVM addresses whose stablecoin holdings are not circulating.
	ReserveControlledAddresses() []string
}
