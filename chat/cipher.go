package chat

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher parameters. Payloads on the wire are nonce || ciphertext || tag.
const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
	Overhead  = chacha20poly1305.Overhead
)

// Cipher provides authenticated encryption for one connection. The key is
// the first 32 bytes of the handshake's shared secret; every Encrypt call
// draws a fresh random nonce, so a key is never paired with a repeated nonce.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a per-connection cipher from the shared secret.
func NewCipher(secret []byte) (*Cipher, error) {
	if len(secret) < KeySize {
		return nil, newError(ErrorTypeKeyDerivation, "derive",
			fmt.Errorf("shared secret is %d bytes, need at least %d", len(secret), KeySize))
	}

	key := make([]byte, KeySize)
	copy(key, secret[:KeySize])

	aead, err := chacha20poly1305.New(key)
	zeroBytes(key)
	if err != nil {
		return nil, newError(ErrorTypeKeyDerivation, "derive", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns nonce || ciphertext || tag.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return nil, newError(ErrorTypeIO, "encrypt", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt splits the leading nonce, authenticates and opens the remainder.
// Any tampering or truncation fails as a whole; no partial plaintext is ever
// returned.
func (c *Cipher) Decrypt(payload []byte) ([]byte, error) {
	if len(payload) < NonceSize+Overhead {
		return nil, newError(ErrorTypeAuthentication, "decrypt",
			fmt.Errorf("payload is %d bytes, shorter than nonce and tag", len(payload)))
	}

	plaintext, err := c.aead.Open(nil, payload[:NonceSize], payload[NonceSize:], nil)
	if err != nil {
		return nil, newError(ErrorTypeAuthentication, "decrypt", err)
	}
	return plaintext, nil
}
