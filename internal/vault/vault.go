// Package vault encrypts and decrypts stored third-party passwords at rest.
//
// Ciphertexts are AES-256-GCM sealed with a fresh random nonce per call and
// encoded as strict standard Base64 of:
//
//	version (1 byte) || nonce (12 bytes) || sealed payload (plaintext + 16-byte tag)
//
// Encrypting the same plaintext twice never yields the same ciphertext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/tonimelisma/tonies-go/internal/apperr"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// SaltSize is the length of the random salt used for passphrase derivation.
const SaltSize = 16

const (
	formatVersion = 0x01
	nonceSize     = 12
	tagSize       = 16
	headerSize    = 1 + nonceSize
)

// argon2id parameters (RFC 9106 second recommended option, 64 MiB).
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var encoding = base64.StdEncoding.Strict()

// Vault holds the AEAD used for Protect/Unprotect. Safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a raw 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, apperr.Invalid("vault: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// DeriveKey stretches a passphrase into a 32-byte key with argon2id. A
// passphrase that is itself the Base64 encoding of exactly 32 bytes is
// taken as the raw key.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, apperr.Invalid("vault: empty passphrase")
	}

	if raw, err := base64.StdEncoding.DecodeString(passphrase); err == nil && len(raw) == KeySize {
		return raw, nil
	}

	if len(salt) < SaltSize {
		return nil, apperr.Invalid("vault: salt must be at least %d bytes", SaltSize)
	}

	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize), nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("vault: generating salt: %w", err)
	}

	return salt, nil
}

// Protect encrypts plaintext. Empty input is rejected.
func (v *Vault) Protect(plaintext string) (string, error) {
	if plaintext == "" {
		return "", apperr.Invalid("vault: nothing to protect")
	}

	buf := make([]byte, headerSize, headerSize+len(plaintext)+tagSize)
	buf[0] = formatVersion

	nonce := buf[1:headerSize]
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}

	sealed := v.aead.Seal(buf, nonce, []byte(plaintext), []byte{formatVersion})

	return encoding.EncodeToString(sealed), nil
}

// Unprotect decrypts a value produced by Protect. Anything that does not
// decode and authenticate cleanly fails with apperr.ErrCorruptCiphertext.
func (v *Vault) Unprotect(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", apperr.Invalid("vault: nothing to unprotect")
	}

	// The decoder silently skips CR/LF; a ciphertext containing them was altered.
	if strings.ContainsAny(ciphertext, "\r\n") {
		return "", corrupt("unexpected line break")
	}

	raw, err := encoding.DecodeString(ciphertext)
	if err != nil {
		return "", corrupt("malformed base64")
	}

	if len(raw) < headerSize+tagSize {
		return "", corrupt("payload truncated")
	}

	if raw[0] != formatVersion {
		return "", corrupt(fmt.Sprintf("unknown format version %d", raw[0]))
	}

	plain, err := v.aead.Open(nil, raw[1:headerSize], raw[headerSize:], raw[:1])
	if err != nil {
		return "", corrupt("authentication failed")
	}

	return string(plain), nil
}

func corrupt(reason string) error {
	return fmt.Errorf("vault: %w: %s", apperr.ErrCorruptCiphertext, reason)
}
