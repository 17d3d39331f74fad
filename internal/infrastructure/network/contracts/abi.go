// Package contracts holds the minimal ABIs of the contracts the reserve reads and
// helpers to pack calls and unpack their results.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"reserve_tracker/internal/domain/entity"
)

// Multicall3Address is the canonical Multicall3 deployment, identical on every supported EVM chain.
const Multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

const erc20JSON = `[
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

const erc4626JSON = `[
{"inputs":[{"name":"owner","type":"address"}],"name":"maxWithdraw","outputs":[{"name":"maxAssets","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const multicall3JSON = `[
{"inputs":[{"components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}],"name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"},
{"inputs":[{"name":"addr","type":"address"}],"name":"getEthBalance","outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const positionManagerJSON = `[
{"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"name":"tokenOfOwnerByIndex","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"positions","outputs":[{"name":"nonce","type":"uint96"},{"name":"operator","type":"address"},{"name":"token0","type":"address"},{"name":"token1","type":"address"},{"name":"fee","type":"uint24"},{"name":"tickLower","type":"int24"},{"name":"tickUpper","type":"int24"},{"name":"liquidity","type":"uint128"},{"name":"feeGrowthInside0LastX128","type":"uint256"},{"name":"feeGrowthInside1LastX128","type":"uint256"},{"name":"tokensOwed0","type":"uint128"},{"name":"tokensOwed1","type":"uint128"}],"stateMutability":"view","type":"function"}
]`

const factoryJSON = `[
{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"name":"getPool","outputs":[{"name":"pool","type":"address"}],"stateMutability":"view","type":"function"}
]`

const poolJSON = `[
{"inputs":[],"name":"slot0","outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"}
]`

var (
	ERC20           = mustParse("ERC20", erc20JSON)
	ERC4626         = mustParse("ERC4626", erc4626JSON)
	Multicall3      = mustParse("Multicall3", multicall3JSON)
	PositionManager = mustParse("NonfungiblePositionManager", positionManagerJSON)
	Factory         = mustParse("UniswapV3Factory", factoryJSON)
	Pool            = mustParse("UniswapV3Pool", poolJSON)
)

func mustParse(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse %s ABI: %v", name, err))
	}
	return parsed
}

// Call3 is one aggregate3 input.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result3 is one aggregate3 output slot.
type Result3 struct {
	Success    bool
	ReturnData []byte
}

// Position is the decoded positions(tokenId) result.
type Position struct {
	Nonce                    *big.Int
	Operator                 common.Address
	Token0                   common.Address
	Token1                   common.Address
	Fee                      *big.Int
	TickLower                *big.Int
	TickUpper                *big.Int
	Liquidity                *big.Int
	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
	TokensOwed0              *big.Int
	TokensOwed1              *big.Int
}

// Slot0 is the decoded slot0() result of a pool.
type Slot0 struct {
	SqrtPriceX96               *big.Int
	Tick                       *big.Int
	ObservationIndex           uint16
	ObservationCardinality     uint16
	ObservationCardinalityNext uint16
	FeeProtocol                uint8
	Unlocked                   bool
}

// PackAggregate3 encodes calls as an aggregate3 invocation with allowFailure set on every call.
func PackAggregate3(calls []entity.ContractCall) ([]byte, error) {
	in := make([]Call3, len(calls))
	for i, c := range calls {
		in[i] = Call3{Target: common.HexToAddress(c.Target), AllowFailure: true, CallData: c.CallData}
	}
	return Multicall3.Pack("aggregate3", in)
}

// UnpackAggregate3 decodes the aggregate3 return data into per-call results.
func UnpackAggregate3(data []byte) ([]entity.CallResult, error) {
	var out []Result3
	if err := Multicall3.UnpackIntoInterface(&out, "aggregate3", data); err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	results := make([]entity.CallResult, len(out))
	for i, r := range out {
		results[i] = entity.CallResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

// BalanceOfCall builds an ERC-20 balanceOf(holder) call on token.
func BalanceOfCall(token, holder string) entity.ContractCall {
	data, _ := ERC20.Pack("balanceOf", common.HexToAddress(holder))
	return entity.ContractCall{Target: token, CallData: data}
}

// NativeBalanceCall builds a Multicall3 getEthBalance(holder) call.
func NativeBalanceCall(holder string) entity.ContractCall {
	data, _ := Multicall3.Pack("getEthBalance", common.HexToAddress(holder))
	return entity.ContractCall{Target: Multicall3Address, CallData: data}
}

// TotalSupplyCall builds an ERC-20 totalSupply() call.
func TotalSupplyCall(token string) entity.ContractCall {
	data, _ := ERC20.Pack("totalSupply")
	return entity.ContractCall{Target: token, CallData: data}
}

// DecimalsCall builds an ERC-20 decimals() call.
func DecimalsCall(token string) entity.ContractCall {
	data, _ := ERC20.Pack("decimals")
	return entity.ContractCall{Target: token, CallData: data}
}

// MaxWithdrawCall builds an ERC-4626 maxWithdraw(owner) call on vault.
func MaxWithdrawCall(vault, owner string) entity.ContractCall {
	data, _ := ERC4626.Pack("maxWithdraw", common.HexToAddress(owner))
	return entity.ContractCall{Target: vault, CallData: data}
}

// PositionCountCall builds balanceOf(owner) on the position manager.
func PositionCountCall(manager, owner string) entity.ContractCall {
	data, _ := PositionManager.Pack("balanceOf", common.HexToAddress(owner))
	return entity.ContractCall{Target: manager, CallData: data}
}

// TokenOfOwnerByIndexCall builds tokenOfOwnerByIndex(owner, index) on the position manager.
func TokenOfOwnerByIndexCall(manager, owner string, index int64) entity.ContractCall {
	data, _ := PositionManager.Pack("tokenOfOwnerByIndex", common.HexToAddress(owner), big.NewInt(index))
	return entity.ContractCall{Target: manager, CallData: data}
}

// PositionsCall builds positions(tokenID) on the position manager.
func PositionsCall(manager string, tokenID *big.Int) entity.ContractCall {
	data, _ := PositionManager.Pack("positions", tokenID)
	return entity.ContractCall{Target: manager, CallData: data}
}

// GetPoolCall builds getPool(token0, token1, fee) on the factory.
func GetPoolCall(factory string, token0, token1 common.Address, fee *big.Int) entity.ContractCall {
	data, _ := Factory.Pack("getPool", token0, token1, fee)
	return entity.ContractCall{Target: factory, CallData: data}
}

// Slot0Call builds slot0() on a pool.
func Slot0Call(pool string) entity.ContractCall {
	data, _ := Pool.Pack("slot0")
	return entity.ContractCall{Target: pool, CallData: data}
}

// UnpackUint256 decodes a single uint256 return value. Empty data decodes as zero.
func UnpackUint256(data []byte) (*big.Int, error) {
	if len(data) == 0 {
		return new(big.Int), nil
	}
	if len(data) < 32 {
		return nil, fmt.Errorf("uint256 return data too short: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:32]), nil
}

// UnpackDecimals decodes a decimals() result.
func UnpackDecimals(data []byte) (uint8, error) {
	var d uint8
	if err := ERC20.UnpackIntoInterface(&d, "decimals", data); err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	return d, nil
}

// UnpackPosition decodes a positions(tokenId) result.
func UnpackPosition(data []byte) (Position, error) {
	var p Position
	if err := PositionManager.UnpackIntoInterface(&p, "positions", data); err != nil {
		return Position{}, fmt.Errorf("unpack positions: %w", err)
	}
	return p, nil
}

// UnpackAddress decodes a single address return value.
func UnpackAddress(data []byte) (common.Address, error) {
	if len(data) < 32 {
		return common.Address{}, fmt.Errorf("address return data too short: %d bytes", len(data))
	}
	return common.BytesToAddress(data[12:32]), nil
}

// UnpackSlot0 decodes a slot0() result.
func UnpackSlot0(data []byte) (Slot0, error) {
	var s Slot0
	if err := Pool.UnpackIntoInterface(&s, "slot0", data); err != nil {
		return Slot0{}, fmt.Errorf("unpack slot0: %w", err)
	}
	return s, nil
}
