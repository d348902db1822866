package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const (
	// GeneratedKeyPrefix marks keys minted by the vault itself, as opposed
	// to user-supplied material.
	GeneratedKeyPrefix = "kf_"

	generatedKeyBytes = 32
	maxDisplayPrefix  = 10
)

// GenerateKey mints a random API key: the recognizable "kf_" prefix
// followed by 43 characters of URL-safe base64.
func GenerateKey() string {
	buf := make([]byte, generatedKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process has no usable entropy
		// source; nothing sensible can continue.
		panic("crypto/rand unavailable: " + err.Error())
	}
	return GeneratedKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
}

// HashKey returns the hex SHA-256 of the plaintext. Used as the
// deduplication column, checkable without decryption.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// SplitDisplay derives the display prefix and last4 for a key.
//
// If the first underscore occurs after position 0 and at least 5
// characters from the end, the prefix is everything up to and including
// it (capped at 10 chars) and last4 is the final 4 characters:
// "sk_abc123def456" -> ("sk_", "f456"). Otherwise the prefix is the
// first 8 characters and last4 the final 4 (the whole string when
// shorter). Display-only; never reversible into the secret.
func SplitDisplay(plaintext string) (prefix, last4 string) {
	underscore := -1
	for i, c := range plaintext {
		if c == '_' {
			underscore = i
			break
		}
	}

	if underscore > 0 && underscore < len(plaintext)-5 {
		prefix = plaintext[:underscore+1]
		if len(prefix) > maxDisplayPrefix {
			prefix = prefix[:maxDisplayPrefix]
		}
		return prefix, plaintext[len(plaintext)-4:]
	}

	prefix = plaintext
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	last4 = plaintext
	if len(last4) > 4 {
		last4 = plaintext[len(plaintext)-4:]
	}
	return prefix, last4
}
