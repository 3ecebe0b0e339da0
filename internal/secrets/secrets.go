// Package secrets encrypts credentials files with a symmetric key kept in a
// separate key file. Payloads are AES-256-GCM with the file's logical name
// bound as additional data, so a ciphertext cannot be swapped between files.
package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// Suffix marks encrypted credentials files.
	Suffix = ".crypto"

	cipherV1         = byte(1)
	minCipherPayload = 1 + 12 // version + nonce
)

var (
	ErrInvalidKey      = errors.New("invalid key")
	ErrPayloadTooShort = errors.New("encrypted payload is too short")
)

// Key is a decoded encryption key.
type Key []byte

// GenerateKey returns a new random key.
func GenerateKey() (Key, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// Encode returns the base64 form stored in key files.
func (k Key) Encode() string {
	return base64.StdEncoding.EncodeToString(k)
}

// ParseKey decodes a base64 key.
func ParseKey(s string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: must be base64: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}
	return raw, nil
}

// WriteKeyFile writes a new key to path with mode 0600. It refuses to
// overwrite an existing file.
func WriteKeyFile(path string) (Key, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating key file: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, key.Encode()); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return key, f.Close()
}

// LoadKey reads a key file.
func LoadKey(path string) (Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return ParseKey(string(data))
}

// Encrypt seals plaintext. name is authenticated but not encrypted.
func Encrypt(key Key, name string, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(name))
	payload := append([]byte{cipherV1}, nonce...)
	return append(payload, ciphertext...), nil
}

// Decrypt opens a payload produced by Encrypt with the same name.
func Decrypt(key Key, name string, payload []byte) ([]byte, error) {
	if len(payload) < minCipherPayload {
		return nil, ErrPayloadTooShort
	}
	if payload[0] != cipherV1 {
		return nil, fmt.Errorf("unsupported cipher version: %d", payload[0])
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(payload) < 1+nonceSize {
		return nil, ErrPayloadTooShort
	}
	plaintext, err := gcm.Open(nil, payload[1:1+nonceSize], payload[1+nonceSize:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: wrong key or corrupted file", name)
	}
	return plaintext, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

// LogicalName is the name bound to an encrypted file: its base name without
// the encryption suffix.
func LogicalName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Suffix)
}

// EncryptFile encrypts src into dst (mode 0600). The ciphertext is stored
// base64 encoded so the file stays printable.
func EncryptFile(key Key, src, dst string) error {
	plaintext, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	payload, err := Encrypt(key, LogicalName(dst), plaintext)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(payload) + "\n"
	if err := os.WriteFile(dst, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}

// DecryptFile returns the plaintext of a file written by EncryptFile.
func DecryptFile(key Key, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	payload, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return Decrypt(key, LogicalName(path), payload)
}

// IsEncrypted reports whether path names an encrypted file.
func IsEncrypted(path string) bool {
	return strings.HasSuffix(path, Suffix)
}
