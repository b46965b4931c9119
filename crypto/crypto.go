// Package crypto provides authenticated encryption for secrets at rest,
// primarily per-channel OAuth access and refresh tokens. It implements
// AES-256-GCM with a process-wide key supplied once at startup.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ivSize is the nonce length in bytes. GCM defaults to 12 but the stored
// token format uses a 16-byte IV, so the mode is constructed explicitly.
const ivSize = 16

// ErrInvalidCiphertext is returned when a ciphertext token is malformed,
// was produced under a different key, or failed its integrity check.
// Decrypt never returns partial or corrupted plaintext.
var ErrInvalidCiphertext = errors.New("invalid or tampered ciphertext")

// Cipher encrypts and decrypts opaque secret strings. Implementations must
// provide authenticated encryption so tampering fails loudly on decrypt.
type Cipher interface {
	// Encrypt transforms plaintext into a reversible ciphertext token
	// suitable for database text columns.
	Encrypt(plaintext string) (string, error)

	// Decrypt verifies and reverses a token produced by Encrypt.
	Decrypt(token string) (string, error)
}

// AESCipher implements Cipher using AES-256-GCM. A fresh random 16-byte IV
// is drawn per Encrypt call; the output token is hex segments joined by ':'
// in the form iv:tag:ciphertext. The ':' separator cannot appear in hex
// output, so splitting is unambiguous.
type AESCipher struct {
	key []byte // 32 bytes for AES-256
}

// NewAESCipher creates a cipher from a hex-encoded 32-byte key, typically
// generated with:
//
//	openssl rand -hex 32
//
// Returns an error if the key is absent or not exactly 32 bytes after
// decoding; the credential subsystem must not start without a usable key.
func NewAESCipher(hexKey string) (*AESCipher, error) {
	if hexKey == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: hex decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return &AESCipher{key: key}, nil
}

func (c *AESCipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext and returns a token in the form
// hex(iv):hex(tag):hex(ciphertext). Encrypting the same plaintext twice
// yields different tokens because the IV is drawn fresh each call.
func (c *AESCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("plaintext is empty")
	}
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	// Seal appends the auth tag after the ciphertext; split them so the
	// stored format carries both segments explicitly.
	tagStart := len(sealed) - gcm.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt verifies and reverses a token produced by Encrypt. Any parse
// failure, wrong-key decryption, or auth tag mismatch returns an error
// wrapping ErrInvalidCiphertext.
func (c *AESCipher) Decrypt(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidCiphertext)
	}
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 segments, got %d", ErrInvalidCiphertext, len(parts))
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", fmt.Errorf("%w: bad iv segment", ErrInvalidCiphertext)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad tag segment", ErrInvalidCiphertext)
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext segment", ErrInvalidCiphertext)
	}
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	if len(tag) != gcm.Overhead() {
		return "", fmt.Errorf("%w: bad tag length", ErrInvalidCiphertext)
	}
	plaintext, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		// The caller must not learn whether the key or the data was wrong.
		return "", fmt.Errorf("%w: authentication failed", ErrInvalidCiphertext)
	}
	return string(plaintext), nil
}
