package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// ProxyDeriver computes a wallet's counterfactual proxy address: the
// CREATE2 address the proxy factory deploys for that wallet, salted with
// keccak256(wallet).
type ProxyDeriver struct {
	factory      common.Address
	initCodeHash []byte
}

// NewProxyDeriver creates a ProxyDeriver. initCodeHash is the hex
// keccak256 of the proxy's creation code.
func NewProxyDeriver(factory, initCodeHash string) (*ProxyDeriver, error) {
	if !common.IsHexAddress(factory) {
		return nil, fmt.Errorf("chain: proxy factory %q is not an address", factory)
	}
	hash := common.FromHex(initCodeHash)
	if len(hash) != common.HashLength {
		return nil, fmt.Errorf("chain: proxy init code hash must be %d bytes, got %d", common.HashLength, len(hash))
	}
	return &ProxyDeriver{factory: common.HexToAddress(factory), initCodeHash: hash}, nil
}

// DeriveProxy returns the proxy address for wallet.
func (d *ProxyDeriver) DeriveProxy(_ context.Context, wallet string) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("chain: derive proxy: %w: bad wallet %q", domain.ErrValidation, wallet)
	}
	salt := ethcrypto.Keccak256Hash(common.HexToAddress(wallet).Bytes())
	return ethcrypto.CreateAddress2(d.factory, salt, d.initCodeHash).Hex(), nil
}
