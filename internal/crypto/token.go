package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

// Approval-токены восстановления: base64url(random(32) ++ HMAC(secret,
// random)[:16]). Сервер хранит только random-компонент; MAC каждый раз
// пересчитывается и сравнивается константным временем — это закрывает
// и подделку, и timing side-channel.

const (
	tokenRandomSize = 32
	tokenMACSize    = 16
)

var ErrInvalidToken = errors.New("invalid token")

// TokenMinter issues and validates recovery approval tokens.
type TokenMinter struct {
	secret []byte
}

func NewTokenMinter(secret []byte) *TokenMinter {
	return &TokenMinter{secret: secret}
}

// Mint returns the opaque token handed to the user and the hex-encoded
// random component, which is the only part persisted server-side.
func (m *TokenMinter) Mint() (token string, lookupKey string, err error) {
	random := make([]byte, tokenRandomSize)
	if _, err := io.ReadFull(rand.Reader, random); err != nil {
		return "", "", err
	}

	raw := make([]byte, 0, tokenRandomSize+tokenMACSize)
	raw = append(raw, random...)
	raw = append(raw, m.mac(random)...)

	return base64.RawURLEncoding.EncodeToString(raw), hex.EncodeToString(random), nil
}

// Validate checks the token MAC and returns the lookup key of the ticket.
// Any malformed or forged token fails with ErrInvalidToken; no partial
// information is revealed.
func (m *TokenMinter) Validate(token string) (lookupKey string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenRandomSize+tokenMACSize {
		return "", ErrInvalidToken
	}

	random := raw[:tokenRandomSize]
	gotMAC := raw[tokenRandomSize:]

	if !hmac.Equal(gotMAC, m.mac(random)) {
		return "", ErrInvalidToken
	}
	return hex.EncodeToString(random), nil
}

func (m *TokenMinter) mac(random []byte) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write(random)
	return h.Sum(nil)[:tokenMACSize]
}
