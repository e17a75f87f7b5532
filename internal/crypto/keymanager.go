// Package crypto loads the bot wallet key and signs on-chain transactions.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 2
)

// ErrWrongPassword is returned when a key file does not open with the given
// password.
var ErrWrongPassword = errors.New("crypto: wrong password or corrupted key file")

// keyFile is the on-disk format of an encrypted wallet key. Address is the
// wallet the key belongs to, kept in clear so operators can tell files
// apart and so decryption can be checked.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names where the wallet key comes from. A raw key wins over an
// encrypted file.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM and returns the key file JSON.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	raw, addr, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	// The address is bound as associated data so it cannot be swapped.
	sealed := gcm.Seal(nil, nonce, raw, addr.Bytes())
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    addr.Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the private
// key as hex without the 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if !common.IsHexAddress(kf.Address) {
		return "", fmt.Errorf("crypto: key file address %q is not a hex address", kf.Address)
	}

	var salt, nonce, sealed []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", kf.Salt, &salt},
		{"nonce", kf.Nonce, &nonce},
		{"ciphertext", kf.Ciphertext, &sealed},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	addr := common.HexToAddress(kf.Address)
	raw, err := gcm.Open(nil, nonce, sealed, addr.Bytes())
	if err != nil {
		return "", ErrWrongPassword
	}
	return hex.EncodeToString(raw), nil
}

// WriteKeyFile encrypts privateKeyHex and writes it to path, readable by
// the owner only. It refuses to overwrite an existing file.
func WriteKeyFile(path, privateKeyHex, password string) (common.Address, error) {
	data, err := EncryptKey(privateKeyHex, password)
	if err != nil {
		return common.Address{}, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return common.Address{}, fmt.Errorf("crypto: write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return common.Address{}, fmt.Errorf("crypto: close key file: %w", err)
	}
	_, addr, _ := parseKey(privateKeyHex)
	return addr, nil
}

// LoadKey returns the wallet key as hex without the 0x prefix.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		raw, _, err := parseKey(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no wallet key configured (set private_key or encrypted_key_path)")
	}
}

// parseKey validates a hex secp256k1 key and derives its address.
func parseKey(keyHex string) ([]byte, common.Address, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return ethcrypto.FromECDSA(pk), ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
