package domain

import (
	"context"
	"math/big"
)

// ChainClient submits reward-token transactions. Amounts are whole points;
// the implementation scales them to token units.
type ChainClient interface {
	SubmitMint(ctx context.Context, address string, amount int64) (txHash string, err error)
	SubmitBurn(ctx context.Context, address string, amount int64) (txHash string, err error)
	// WaitForConfirmation returns an error wrapping ErrTxReverted when the
	// transaction was mined and failed.
	WaitForConfirmation(ctx context.Context, txHash string) error
}

// BalanceReader reads a token balance on the destination chain in base
// units.
type BalanceReader interface {
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
	Decimals() int32
}
