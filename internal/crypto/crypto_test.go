package crypto

import (
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat's first dev account.
const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestLoadOperatorKeyRaw(t *testing.T) {
	pk, err := LoadOperatorKey(KeySource{RawPrivateKey: "0x" + devKey})
	require.NoError(t, err)
	assert.Equal(t, devAddress, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())

	_, err = LoadOperatorKey(KeySource{RawPrivateKey: "not-hex"})
	assert.Error(t, err)

	_, err = LoadOperatorKey(KeySource{})
	assert.Error(t, err)
}

func TestKeyfile(t *testing.T) {
	sealed, err := SealKey(devKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(sealed), devAddress)

	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	pk, err := LoadOperatorKey(KeySource{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, devAddress, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())

	_, err = OpenKey(sealed, "wrong")
	assert.ErrorContains(t, err, "wrong password")

	_, err = SealKey(devKey, "")
	assert.Error(t, err)
}

func TestWebhookVerifier(t *testing.T) {
	body := []byte(`{"transferId":"t1","status":"complete"}`)

	plain := NewWebhookVerifier("s3cret", "")
	assert.True(t, plain.Verify("s3cret", "", body))
	assert.False(t, plain.Verify("nope", "", body))
	assert.False(t, plain.Verify("", "", body))

	signed := NewWebhookVerifier("s3cret", "signing-key")
	sig := signed.Sign(body)
	assert.True(t, signed.Verify("s3cret", sig, body))
	assert.False(t, signed.Verify("s3cret", sig, []byte(`{"transferId":"t1","status":"failed"}`)))
	assert.False(t, signed.Verify("s3cret", "", body))

	assert.False(t, NewWebhookVerifier("", "").Verify("", "", body), "an unset secret never verifies")
}
