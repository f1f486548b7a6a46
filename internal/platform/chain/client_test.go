package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	token = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	alice = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

type fakeBackend struct {
	mu       sync.Mutex
	nonce    uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	misses   int
	head     uint64
	sendErr  error
	callOut  []byte
	calls    []ethereum.CallMsg
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{receipts: make(map[common.Hash]*types.Receipt), head: 100}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(8453), nil }

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(5_000_000)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 77_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.misses > 0 {
		f.misses--
		return nil, ethereum.NotFound
	}
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head++
	return f.head, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	return f.callOut, nil
}

func newTestClient(t *testing.T, b *fakeBackend, cfg ClientConfig) *Client {
	t.Helper()
	key, err := ethcrypto.HexToECDSA(devKey)
	require.NoError(t, err)
	cfg.Token = token
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	c, err := NewClient(context.Background(), b, key, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestSubmitMintBuildsSignedCall(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b, ClientConfig{Decimals: 18, GasLimit: 120_000})

	hash, err := c.SubmitMint(context.Background(), alice, 60)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, token, *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, big.NewInt(11_000_000), tx.GasFeeCap())
	assert.Equal(t, 0, tx.Value().Sign())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), tx)
	require.NoError(t, err)
	assert.Equal(t, c.Operator(), sender)

	method, err := tokenABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "mint", method.Name)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(alice), args[0])
	want, _ := new(big.Int).SetString("60000000000000000000", 10)
	assert.Zero(t, want.Cmp(args[1].(*big.Int)))
}

func TestSubmitBurnUsesEstimateAndNextNonce(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b, ClientConfig{})

	_, err := c.SubmitMint(context.Background(), alice, 5)
	require.NoError(t, err)
	_, err = c.SubmitBurn(context.Background(), alice, 3)
	require.NoError(t, err)

	require.Len(t, b.sent, 2)
	assert.Equal(t, uint64(1), b.sent[1].Nonce())
	assert.Equal(t, uint64(77_000), b.sent[1].Gas())
	method, err := tokenABI.MethodById(b.sent[1].Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "burn", method.Name)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b, ClientConfig{})

	_, err := c.SubmitMint(context.Background(), "not-an-address", 5)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = c.SubmitBurn(context.Background(), alice, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	b.sendErr = errors.New("nonce too low")
	_, err = c.SubmitMint(context.Background(), alice, 5)
	assert.ErrorContains(t, err, "nonce too low")
	assert.Empty(t, b.sent)
}

func TestWaitForConfirmation(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b, ClientConfig{Confirmations: 3})

	hash, err := c.SubmitMint(context.Background(), alice, 1)
	require.NoError(t, err)
	b.misses = 2
	b.receipts[common.HexToHash(hash)] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(101),
	}

	require.NoError(t, c.WaitForConfirmation(context.Background(), hash))
	assert.GreaterOrEqual(t, b.head, uint64(103))
}

func TestWaitForConfirmationReverted(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b, ClientConfig{})

	hash, err := c.SubmitMint(context.Background(), alice, 1)
	require.NoError(t, err)
	b.receipts[common.HexToHash(hash)] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(101)}

	err = c.WaitForConfirmation(context.Background(), hash)
	assert.ErrorIs(t, err, ErrReverted)
	assert.ErrorIs(t, err, domain.ErrTxReverted)
}

func TestWaitForConfirmationTimeout(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b, ClientConfig{ConfirmTimeout: 20 * time.Millisecond})

	err := c.WaitForConfirmation(context.Background(), "0x"+common.Bytes2Hex(make([]byte, 32)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBalanceOf(t *testing.T) {
	b := newFakeBackend()
	out, err := tokenABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(12_500_000))
	require.NoError(t, err)
	b.callOut = out

	usdc, _ := Lookup("Polygon")
	r := NewBalanceReader(b, usdc.USDC, usdc.USDCDecimals)
	bal, err := r.BalanceOf(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(12_500_000), bal)
	assert.Equal(t, int32(6), r.Decimals())
	require.Len(t, b.calls, 1)
	assert.Equal(t, usdc.USDC, *b.calls[0].To)

	_, err = r.BalanceOf(context.Background(), "0x12")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProxyDeriver(t *testing.T) {
	d, err := NewProxyDeriver("0xaB45c5A4B0c941a2F231C04C3f49182e1A254052", "0x"+common.Bytes2Hex(ethcrypto.Keccak256([]byte("proxy"))))
	require.NoError(t, err)

	a1, err := d.DeriveProxy(context.Background(), alice)
	require.NoError(t, err)
	a2, _ := d.DeriveProxy(context.Background(), alice)
	b1, _ := d.DeriveProxy(context.Background(), "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	assert.True(t, common.IsHexAddress(a1))
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b1)

	_, err = d.DeriveProxy(context.Background(), "bogus")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewProxyDeriver("0xaB45c5A4B0c941a2F231C04C3f49182e1A254052", "0x1234")
	assert.Error(t, err)
}

func TestScaleUnitsAndLookup(t *testing.T) {
	assert.Equal(t, big.NewInt(7), ScaleUnits(7, 0))
	assert.Equal(t, big.NewInt(7_000_000), ScaleUnits(7, 6))

	n, ok := Lookup(" BASE ")
	require.True(t, ok)
	assert.Equal(t, int64(8453), n.ChainID)
	assert.Equal(t, uint32(6), n.Domain)

	_, ok = Lookup("solana")
	assert.False(t, ok)
}
