package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const tokenPrefix = "v1."

var (
	ErrDecrypt    = errors.New("credential_decrypt_failed")
	ErrInvalidKey = errors.New("credential_key_invalid")
)

// Store seals credential blobs into opaque tokens with XChaCha20-Poly1305.
type Store struct {
	key []byte
}

// NewStore takes a base64 encoded 32 byte key.
func NewStore(encodedKey string) (*Store, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, chacha20poly1305.KeySize, len(key))
	}
	return &Store{key: key}, nil
}

func (s *Store) Encrypt(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt returns ErrDecrypt for any malformed or tampered token.
func (s *Store) Decrypt(token string) ([]byte, error) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return nil, ErrDecrypt
	}
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, tokenPrefix))
	if err != nil {
		return nil, ErrDecrypt
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
