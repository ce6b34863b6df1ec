package tokenstore

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a token file encryption key
const KeySize = chacha20poly1305.KeySize

// sealedMagic prefixes encrypted token files
var sealedMagic = []byte("DLTK1")

// ParseKey decodes a 32 byte key given as hex or standard base64
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if key, err := hex.DecodeString(s); err == nil && len(key) == KeySize {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == KeySize {
		return key, nil
	}
	return nil, fmt.Errorf("token key must be %d bytes encoded as hex or base64", KeySize)
}

// GenerateKey returns a random key encoded as base64
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealedMagic)
}

// seal encrypts plaintext with XChaCha20-Poly1305, binding the magic header
// as additional data
func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := append([]byte{}, sealedMagic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, sealedMagic), nil
}

func open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	body := sealed[len(sealedMagic):]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("sealed token file is truncated")
	}
	nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, sealedMagic)
}
