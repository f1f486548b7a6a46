// Package crypto loads the operator signing key and authenticates bridge
// provider webhooks.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyfileVersion   = 1
)

// keyfile is the on-disk format of an encrypted operator key. Binary
// fields are base64 standard encoding.
type keyfile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the operator key comes from. A raw key wins over
// an encrypted keyfile.
type KeySource struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// SealKey encrypts a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM and returns the keyfile JSON.
func SealKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := keyfile{
		Version:    keyfileVersion,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// OpenKey decrypts a keyfile produced by SealKey.
func OpenKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var kf keyfile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parsing keyfile: %w", err)
	}
	if kf.Version != keyfileVersion {
		return nil, fmt.Errorf("crypto: unsupported keyfile version %d", kf.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypting keyfile (wrong password?): %w", err)
	}
	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: keyfile holds an invalid key: %w", err)
	}
	if kf.Address != "" && !strings.EqualFold(kf.Address, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()) {
		return nil, errors.New("crypto: keyfile address does not match decrypted key")
	}
	return pk, nil
}

// LoadOperatorKey resolves the key that signs mint and burn transactions.
func LoadOperatorKey(src KeySource) (*ecdsa.PrivateKey, error) {
	if src.RawPrivateKey != "" {
		return parseKey(src.RawPrivateKey)
	}
	if src.EncryptedKeyPath != "" {
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading keyfile: %w", err)
		}
		return OpenKey(data, src.KeyPassword)
	}
	return nil, errors.New("crypto: no operator key configured (set private_key or encrypted_key_path)")
}

func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	k := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if _, err := hex.DecodeString(k); err != nil {
		return nil, fmt.Errorf("crypto: private key is not valid hex: %w", err)
	}
	pk, err := ethcrypto.HexToECDSA(k)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
