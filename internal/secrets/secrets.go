// Package secrets seals provider API keys so they can sit in config files
// and environment variables. A sealed value is "enc:" followed by the
// base64 AES-GCM nonce and ciphertext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const SealedPrefix = "enc:"

var (
	newGCM = cipher.NewGCM

	ErrMissingKey = errors.New("LLM_SECRETS_KEY is required to read sealed secrets")
	errKeyLength  = errors.New("LLM_SECRETS_KEY must be 32 bytes or base64-encoded 32 bytes")
)

func ParseKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, ErrMissingKey
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errKeyLength
	}
	if len(decoded) != 32 {
		return nil, errKeyLength
	}
	return decoded, nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), SealedPrefix)
}

// Seal encrypts plaintext and returns it in sealed form.
func Seal(key []byte, plaintext string) (string, error) {
	encoded, err := Encrypt(key, plaintext)
	if err != nil {
		return "", err
	}
	return SealedPrefix + encoded, nil
}

// Reveal returns value unchanged unless it is sealed, in which case it is
// decrypted with the key parsed from rawKey.
func Reveal(rawKey string, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	key, err := ParseKey(rawKey)
	if err != nil {
		return "", err
	}
	return Decrypt(key, strings.TrimPrefix(strings.TrimSpace(value), SealedPrefix))
}

// RevealAll reveals each named value in place. Plain values are left as is.
func RevealAll(rawKey string, values map[string]*string) error {
	var errs []error
	for name, value := range values {
		if value == nil {
			continue
		}
		revealed, err := Reveal(rawKey, *value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*value = revealed
	}
	return errors.Join(errs...)
}

func Encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	combined := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

func Decrypt(key []byte, encoded string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(block)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("invalid sealed secret")
	}
	nonce := data[:gcm.NonceSize()]
	ciphertext := data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
