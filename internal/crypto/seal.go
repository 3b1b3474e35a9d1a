// Package crypto seals small secrets, such as the store signing seed, under a passphrase.
package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	keyLen       uint32 = chacha20poly1305.KeySize

	saltLen = 16
)

// magic prefixes every sealed blob and is bound as associated data.
var magic = []byte("ASEAL1")

// ErrBadPassphrase indicates a wrong passphrase or a tampered blob.
var ErrBadPassphrase = errors.New("crypto: wrong passphrase or corrupted data")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
}

// IsSealed reports whether b looks like the output of Seal.
func IsSealed(b []byte) bool { return bytes.HasPrefix(b, magic) }

// Seal encrypts plaintext with XChaCha20-Poly1305 under an Argon2id key derived from passphrase.
// Layout: magic || salt || nonce || ciphertext.
func Seal(passphrase, plaintext []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("crypto: empty passphrase")
	}
	salt, err := RandBytes(saltLen)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magic)+saltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, magic), nil
}

// Open reverses Seal.
func Open(passphrase, sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) || len(sealed) < len(magic)+saltLen+chacha20poly1305.NonceSizeX {
		return nil, errors.New("crypto: not a sealed blob")
	}
	rest := sealed[len(magic):]
	salt, rest := rest[:saltLen], rest[saltLen:]
	nonce, ct := rest[:chacha20poly1305.NonceSizeX], rest[chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ct, magic)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return pt, nil
}
