package fetcher

import (
	"context"
	"math/big"

	"reserve_tracker/internal/domain/entity"
)

// ContractCaller is the batched read surface of one EVM chain.
type ContractCaller interface {
	Call(ctx context.Context, call entity.ContractCall) (entity.CallResult, error)
	CallUint256(ctx context.Context, call entity.ContractCall) (*big.Int, error)
	FetchBalance(ctx context.Context, token, account string) (*big.Int, error)
}
