package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const nonceLength = 12

var errCiphertextTooShort = errors.New("cache: ciphertext too short")

// cipherBox wraps AES-256-GCM for sealing cache payloads before storage.
// The key is derived from the configured application secret, so any secret
// string yields a usable 32-byte key.
type cipherBox struct {
	key [sha256.Size]byte
}

func newCipherBox(secret string) *cipherBox {
	return &cipherBox{key: sha256.Sum256([]byte(secret))}
}

func (c *cipherBox) seal(plaintext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cache: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

func (c *cipherBox) open(encoded []byte) ([]byte, error) {
	payload := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(payload, encoded)
	if err != nil {
		return nil, fmt.Errorf("cache: decode ciphertext: %w", err)
	}
	payload = payload[:n]

	if len(payload) < nonceLength {
		return nil, errCiphertextTooShort
	}

	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	plain, err := gcm.Open(nil, payload[:nonceLength], payload[nonceLength:], nil)
	if err != nil {
		return nil, fmt.Errorf("cache: decrypt payload: %w", err)
	}
	return plain, nil
}

func (c *cipherBox) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("cache: create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
