// Package crypto implements the envelope encryption used for secret
// records: AES-256-GCM under a single base64-encoded master key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	masterKeyLen = 32
	nonceLen     = 12 // 96-bit GCM nonce
)

// ErrDecryptFailed is returned when the GCM authentication tag does not
// verify: tampered ciphertext, or a mismatched key/nonce pairing. The
// plaintext is never partially returned.
var ErrDecryptFailed = errors.New("decryption failed")

// Vault performs authenticated encryption of secret strings. The master
// key is held in memory for the process lifetime; Vault is safe for
// concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// NewVault decodes the base64 master key and builds the AEAD. The key
// must decode to exactly 32 bytes.
func NewVault(masterKeyB64 string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != masterKeyLen {
		return nil, fmt.Errorf("master key must be %d bytes when decoded, got %d", masterKeyLen, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. Callers must persist
// ciphertext and nonce together; a nonce is never valid for any other
// ciphertext.
func (v *Vault) Encrypt(plaintext string) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, nil
}

// Decrypt opens a ciphertext/nonce pair produced by Encrypt.
func (v *Vault) Decrypt(ciphertext, nonce []byte) (string, error) {
	if len(nonce) != nonceLen {
		return "", fmt.Errorf("%w: bad nonce length %d", ErrDecryptFailed, len(nonce))
	}
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return string(plaintext), nil
}
