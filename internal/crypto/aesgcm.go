package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// Шифрование TOTP-секретов: AES-256-GCM, ключ выводится scrypt'ом из
// мастер-ключа с солью на каждый шифротекст. Формат блоба:
// salt(16) || nonce(12) || ciphertext.

const (
	saltSize = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var ErrMasterKeyTooShort = errors.New("master key must be at least 32 bytes")

// SecretCipher seals and opens small secrets (TOTP seeds) at rest.
type SecretCipher struct {
	masterKey []byte
}

func NewSecretCipher(masterKey []byte) (*SecretCipher, error) {
	if len(masterKey) < 32 {
		return nil, ErrMasterKeyTooShort
	}
	return &SecretCipher{masterKey: masterKey}, nil
}

func (c *SecretCipher) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func (c *SecretCipher) Open(blob []byte) ([]byte, error) {
	if len(blob) < saltSize {
		return nil, errors.New("ciphertext too short")
	}
	salt := blob[:saltSize]

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	ns := gcm.NonceSize()
	if len(blob) < saltSize+ns {
		return nil, errors.New("ciphertext too short")
	}
	nonce := blob[saltSize : saltSize+ns]
	ct := blob[saltSize+ns:]

	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	return pt, nil
}

func (c *SecretCipher) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(c.masterKey, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
