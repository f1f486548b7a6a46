package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// BalanceReader reads an ERC-20 balance, typically USDC on the bridge's
// destination chain.
type BalanceReader struct {
	backend  Backend
	token    common.Address
	decimals int32
}

// NewBalanceReader creates a BalanceReader for token.
func NewBalanceReader(backend Backend, token common.Address, decimals int32) *BalanceReader {
	return &BalanceReader{backend: backend, token: token, decimals: decimals}
}

// BalanceOf returns address's balance in base units at the latest block.
func (r *BalanceReader) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("chain: balanceOf: %w: bad address %q", domain.ErrValidation, address)
	}
	data, err := tokenABI.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf %s: %w", address, err)
	}
	vals, err := tokenABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack balanceOf: %w", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: balanceOf returned %T", vals[0])
	}
	return bal, nil
}

// Decimals returns the token's decimal places.
func (r *BalanceReader) Decimals() int32 { return r.decimals }

var _ domain.BalanceReader = (*BalanceReader)(nil)
