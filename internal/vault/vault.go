package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/cryptotrader/trading-service/internal/apperror"
)

// Vault encrypts and decrypts stored secrets with AES-256-GCM under a
// single process-wide key. Ciphertext layout: base64(nonce || sealed).
type Vault struct {
	aead cipher.AEAD
}

// New derives a 32 byte key from the configured key string. The same
// configured string always derives the same key, so everything the
// process ever encrypted stays decryptable.
func New(key string) (*Vault, error) {
	if strings.TrimSpace(key) == "" {
		return nil, apperror.New(apperror.KindCrypto, "encryption key is required")
	}

	derived := sha256.Sum256([]byte(key))

	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, apperror.Wrap(apperror.KindCrypto, "init cipher", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindCrypto, "init gcm", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext. Empty input passes through unchanged.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperror.Wrap(apperror.KindCrypto, "generate nonce", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext produced by Encrypt. Empty input passes
// through unchanged. Tampered or corrupt input fails with a crypto
// kind; callers must not read that as "credential absent".
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperror.Wrap(apperror.KindCrypto, "decode ciphertext", err)
	}

	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", apperror.New(apperror.KindCrypto, "ciphertext too short")
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", apperror.Wrap(apperror.KindCrypto, "decrypt", err)
	}

	return string(plaintext), nil
}

// GenerateKey returns a random base64 key suitable for the config file.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(key), nil
}
