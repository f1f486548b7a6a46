package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// ErrReverted is returned when a transaction was mined but failed. It
// wraps domain.ErrTxReverted.
var ErrReverted = fmt.Errorf("chain: %w", domain.ErrTxReverted)

// rewardTokenABI covers the admin mint/burn entry points of the reward
// token and the ERC-20 reads the engine needs.
const rewardTokenABI = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var tokenABI = mustParseABI(rewardTokenABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Backend is the subset of ethclient.Client the chain package uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return c, nil
}

// ClientConfig configures a reward-token Client.
type ClientConfig struct {
	Token          common.Address
	Decimals       int32
	GasLimit       uint64
	Confirmations  int
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client implements domain.ChainClient against the reward token contract.
// Submissions are serialized so that nonces are assigned in order.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	cfg     ClientConfig
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewClient creates a Client. The chain ID is read once from the backend.
func NewClient(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: read chain id: %w", err)
	}
	if cfg.Confirmations < 1 {
		cfg.Confirmations = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Client{
		backend: backend,
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "chain")),
	}, nil
}

// Operator returns the address that signs transactions.
func (c *Client) Operator() common.Address { return c.from }

// SubmitMint mints amount whole points to address.
func (c *Client) SubmitMint(ctx context.Context, address string, amount int64) (string, error) {
	return c.submit(ctx, "mint", address, amount)
}

// SubmitBurn burns amount whole points from address.
func (c *Client) SubmitBurn(ctx context.Context, address string, amount int64) (string, error) {
	return c.submit(ctx, "burn", address, amount)
}

func (c *Client) submit(ctx context.Context, method, address string, amount int64) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("chain: %s: %w: bad address %q", method, domain.ErrValidation, address)
	}
	if amount <= 0 {
		return "", fmt.Errorf("chain: %s: %w: amount must be positive", method, domain.ErrValidation)
	}
	units := ScaleUnits(amount, c.cfg.Decimals)
	data, err := tokenABI.Pack(method, common.HexToAddress(address), units)
	if err != nil {
		return "", fmt.Errorf("chain: pack %s: %w", method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("chain: %s nonce: %w", method, err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: %s gas tip: %w", method, err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("chain: %s header: %w", method, err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	gas := c.cfg.GasLimit
	if gas == 0 {
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.cfg.Token, Data: data})
		if err != nil {
			return "", fmt.Errorf("chain: %s estimate gas: %w", method, err)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &c.cfg.Token,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("chain: %s sign: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: %s send: %w", method, err)
	}

	hash := signed.Hash().Hex()
	c.logger.InfoContext(ctx, "chain: transaction sent",
		slog.String("method", method),
		slog.String("to", address),
		slog.Int64("amount", amount),
		slog.Uint64("nonce", nonce),
		slog.String("tx_hash", hash),
	)
	return hash, nil
}

// WaitForConfirmation blocks until txHash is mined with the configured
// number of confirmations, the transaction reverts, or the timeout passes.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash string) error {
	if c.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
	}
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		done, err := c.checkReceipt(ctx, hash)
		if done || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: wait %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) checkReceipt(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return true, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	if c.cfg.Confirmations <= 1 || receipt.BlockNumber == nil {
		return true, nil
	}
	latest, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("chain: block number: %w", err)
	}
	mined := receipt.BlockNumber.Uint64()
	return latest >= mined && latest-mined+1 >= uint64(c.cfg.Confirmations), nil
}

// ScaleUnits converts whole points into token base units.
func ScaleUnits(amount int64, decimals int32) *big.Int {
	v := big.NewInt(amount)
	if decimals <= 0 {
		return v
	}
	return v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

var _ domain.ChainClient = (*Client)(nil)
