package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	// ErrInvalidKey indicates the encryption key is not 32 bytes of hex or base64.
	ErrInvalidKey = errors.New("encryption key must decode to 32 bytes")
	// ErrDecrypt indicates a sealed value could not be opened.
	ErrDecrypt = errors.New("unable to decrypt value")
)

// Codec seals tokens at rest with NaCl secretbox.
type Codec struct {
	key [32]byte
}

// NewCodec parses a 32-byte key given as hex or standard base64.
func NewCodec(key string) (*Codec, error) {
	key = strings.TrimSpace(key)
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != 32 {
		raw, err = base64.StdEncoding.DecodeString(key)
		if err != nil || len(raw) != 32 {
			return nil, ErrInvalidKey
		}
	}
	c := &Codec{}
	copy(c.key[:], raw)
	return c, nil
}

// Seal encrypts plaintext and returns nonce||box as base64.
func (c *Codec) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (c *Codec) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
