package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"reserve_tracker/internal/app/port"
	"reserve_tracker/internal/domain/entity"
)

type adjustmentCategory int

const (
	adjustReserveHeld adjustmentCategory = iota
	adjustProtocolDeposited
	adjustLost
)

func (c adjustmentCategory) String() string {
	switch c {
	case adjustReserveHeld:
		return "reserve_held"
	case adjustProtocolDeposited:
		return "protocol_deposited"
	default:
		return "lost"
	}
}

// balanceLookup is one balance read contributing to a token's adjustments.
type balanceLookup struct {
	token    int
	category adjustmentCategory
	contract string
	holder   string
}

// AdjustmentService nets reserve-held, protocol-deposited and lost balances out of
// stablecoin supply.
type AdjustmentService struct {
	reader      port.TokenBalanceReader
	registry    port.Registry
	valuation   port.ValuationService
	logger      port.Logger
	concurrency int
}

// NewAdjustmentService creates an adjustment calculator. concurrency bounds in-flight lookups.
func NewAdjustmentService(reader port.TokenBalanceReader, registry port.Registry, valuation port.ValuationService, concurrency int, logger port.Logger) *AdjustmentService {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &AdjustmentService{reader: reader, registry: registry, valuation: valuation, concurrency: concurrency, logger: logger}
}

// assetFor returns the registry asset matching token, or a market-priced stand-in.
func (s *AdjustmentService) assetFor(token entity.StablecoinToken) entity.AssetConfig {
	if a, ok := s.registry.Asset(token.Symbol); ok {
		a.Decimals = token.Decimals
		return a
	}
	return entity.AssetConfig{Symbol: token.Symbol, Decimals: token.Decimals, ContractAddress: token.ContractAddress}
}

// lookups lists the reads of every token. A holder is counted in at most one
// category per contract, reserve-held taking precedence over lost.
func (s *AdjustmentService) lookups(tokens []entity.StablecoinToken) []balanceLookup {
	controlled := lo.UniqBy(s.registry.ReserveControlledAddresses(), strings.ToLower)
	isControlled := lo.SliceToMap(controlled, func(a string) (string, bool) { return strings.ToLower(a), true })
	var out []balanceLookup
	for i, t := range tokens {
		for _, holder := range controlled {
			out = append(out, balanceLookup{token: i, category: adjustReserveHeld, contract: t.ContractAddress, holder: holder})
		}
		if receipt, ok := s.reader.ReceiptToken(t.Chain, t.ContractAddress); ok {
			for _, holder := range controlled {
				out = append(out, balanceLookup{token: i, category: adjustProtocolDeposited, contract: receipt, holder: holder})
			}
		}
		// A token held by its own contract can never be redeemed.
		lost := append([]string{t.ContractAddress}, t.DeadAddresses...)
		for _, holder := range lo.UniqBy(lost, strings.ToLower) {
			if isControlled[strings.ToLower(holder)] {
				continue
			}
			out = append(out, balanceLookup{token: i, category: adjustLost, contract: t.ContractAddress, holder: holder})
		}
	}
	return out
}

// CalculateTotalAdjustments sums the three adjustment categories per token symbol.
// A failed lookup is logged and contributes zero.
func (s *AdjustmentService) CalculateTotalAdjustments(ctx context.Context, tokens []entity.StablecoinToken) entity.AdjustmentsResult {
	amounts := make([][3]decimal.Decimal, len(tokens))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, l := range s.lookups(tokens) {
		g.Go(func() error {
			t := tokens[l.token]
			bal, err := s.reader.TokenBalance(gctx, t.Chain, l.contract, l.holder)
			if err != nil {
				s.logger.Warn("Adjustment lookup failed, counted as zero",
					"symbol", t.Symbol, "chain", t.Chain, "category", l.category.String(), "holder", l.holder, "error", err)
				return nil
			}
			amt, err := bal.Normalize(t.Decimals)
			if err != nil {
				s.logger.Warn("Malformed adjustment balance, counted as zero", "symbol", t.Symbol, "error", err)
				return nil
			}
			mu.Lock()
			amounts[l.token][l.category] = amounts[l.token][l.category].Add(amt)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result := entity.AdjustmentsResult{ByToken: make(map[string]entity.TokenAdjustment)}
	for i, t := range tokens {
		asset := s.assetFor(t)
		value := func(c adjustmentCategory) entity.AdjustmentAmount {
			amt := amounts[i][c]
			return entity.AdjustmentAmount{
				Amount:   amt,
				UsdValue: s.valuation.CalculateUsdValue(ctx, asset, entity.DecimalAmount(amt), t.Chain),
			}
		}
		adj := entity.TokenAdjustment{
			ReserveHeld:       value(adjustReserveHeld),
			ProtocolDeposited: value(adjustProtocolDeposited),
			Lost:              value(adjustLost),
		}
		adj.Total = adj.ReserveHeld.Add(adj.ProtocolDeposited).Add(adj.Lost)
		result.TotalUsdValue += adj.Total.UsdValue

		if prev, ok := result.ByToken[t.Symbol]; ok {
			adj = entity.TokenAdjustment{
				ReserveHeld:       prev.ReserveHeld.Add(adj.ReserveHeld),
				ProtocolDeposited: prev.ProtocolDeposited.Add(adj.ProtocolDeposited),
				Lost:              prev.Lost.Add(adj.Lost),
				Total:             prev.Total.Add(adj.Total),
			}
		}
		result.ByToken[t.Symbol] = adj
	}
	return result
}

// CalculateNetSupply returns gross supply minus adjustments for each token symbol.
// Unlike adjustment lookups, a failed totalSupply read fails the symbol: a missing gross
// figure would otherwise report a negative supply.
// The adjustments used are returned alongside.
func (s *AdjustmentService) CalculateNetSupply(ctx context.Context, tokens []entity.StablecoinToken) ([]entity.NetSupply, entity.AdjustmentsResult, error) {
	gross := make([]decimal.Decimal, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, t := range tokens {
		g.Go(func() error {
			supply, err := s.reader.TotalSupply(gctx, t.Chain, t.ContractAddress)
			if err != nil {
				return fmt.Errorf("gross supply of %s on %s: %w", t.Symbol, t.Chain, err)
			}
			amt, err := supply.Normalize(t.Decimals)
			if err != nil {
				return fmt.Errorf("gross supply of %s on %s: %w", t.Symbol, t.Chain, err)
			}
			gross[i] = amt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, entity.AdjustmentsResult{}, err
	}

	adjustments := s.CalculateTotalAdjustments(ctx, tokens)

	bySymbol := make(map[string]*entity.NetSupply)
	var order []string
	assets := make(map[string]entity.AssetConfig)
	chains := make(map[string]entity.Chain)
	for i, t := range tokens {
		ns, ok := bySymbol[t.Symbol]
		if !ok {
			ns = &entity.NetSupply{Symbol: t.Symbol}
			bySymbol[t.Symbol] = ns
			order = append(order, t.Symbol)
			assets[t.Symbol] = s.assetFor(t)
			chains[t.Symbol] = t.Chain
		}
		ns.GrossSupply = ns.GrossSupply.Add(gross[i])
	}

	var errs []error
	out := make([]entity.NetSupply, 0, len(order))
	for _, sym := range order {
		ns := bySymbol[sym]
		ns.Adjustments = adjustments.ByToken[sym].Total.Amount
		ns.NetSupply = ns.GrossSupply.Sub(ns.Adjustments)
		if ns.NetSupply.IsNegative() {
			errs = append(errs, fmt.Errorf("net supply of %s is negative (%s)", sym, ns.NetSupply))
			ns.NetSupply = decimal.Zero
		}
		ns.UsdValue = s.valuation.CalculateUsdValue(ctx, assets[sym], entity.DecimalAmount(ns.NetSupply), chains[sym])
		out = append(out, *ns)
	}
	if len(errs) > 0 {
		s.logger.Warn("Inconsistent supply figures", "error", errors.Join(errs...))
	}
	return out, adjustments, nil
}
