// Package signer binds package digests to devices with a server-held signature key.
package signer

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"

	"github.com/and161185/appstore/internal/crypto"
	"github.com/and161185/appstore/internal/errs"
)

// DefaultScheme is used when no scheme is configured.
const DefaultScheme = "Ed25519"

// Key is the process-wide signing key. It is immutable after construction and safe for
// concurrent use.
type Key struct {
	scheme sign.Scheme
	priv   sign.PrivateKey
	pub    sign.PublicKey
}

func lookupScheme(name string) (sign.Scheme, error) {
	if name == "" {
		name = DefaultScheme
	}
	sch := schemes.ByName(name)
	if sch == nil {
		return nil, fmt.Errorf("%w: unknown signature scheme %q", errs.ErrSigningKeyUnavailable, name)
	}
	return sch, nil
}

// NewKey derives a key pair for the named scheme from seed.
func NewKey(schemeName string, seed []byte) (*Key, error) {
	sch, err := lookupScheme(schemeName)
	if err != nil {
		return nil, err
	}
	if len(seed) != sch.SeedSize() {
		return nil, fmt.Errorf("%w: %s seed must be %d bytes, got %d",
			errs.ErrSigningKeyUnavailable, sch.Name(), sch.SeedSize(), len(seed))
	}
	pub, priv := sch.DeriveKey(seed)
	return &Key{scheme: sch, priv: priv, pub: pub}, nil
}

// GenerateSeed returns a fresh random seed for the named scheme.
func GenerateSeed(schemeName string) ([]byte, error) {
	sch, err := lookupScheme(schemeName)
	if err != nil {
		return nil, err
	}
	seed := make([]byte, sch.SeedSize())
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// EncodeSeed returns the on-disk form of a seed.
func EncodeSeed(seed []byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(seed) + "\n")
}

// EncodeSealedSeed returns the on-disk form of a seed sealed under passphrase.
func EncodeSealedSeed(seed, passphrase []byte) ([]byte, error) {
	sealed, err := crypto.Seal(passphrase, seed)
	if err != nil {
		return nil, err
	}
	return EncodeSeed(sealed), nil
}

// LoadKey reads a base64 seed from path. Sealed seeds are opened with passphrase.
func LoadKey(schemeName, path string, passphrase []byte) (*Key, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSigningKeyUnavailable, err)
	}
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", errs.ErrSigningKeyUnavailable, path, err)
	}
	if crypto.IsSealed(seed) {
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("%w: %s is sealed and no passphrase was given", errs.ErrSigningKeyUnavailable, path)
		}
		if seed, err = crypto.Open(passphrase, seed); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrSigningKeyUnavailable, path, err)
		}
	}
	return NewKey(schemeName, seed)
}

// Algorithm returns the scheme name recorded in store footers.
func (k *Key) Algorithm() string { return k.scheme.Name() }

// PublicKey returns the public half of the key.
func (k *Key) PublicKey() sign.PublicKey { return k.pub }

// PublicKeyBase64 returns the public key in the form clients are configured with.
func (k *Key) PublicKeyBase64() (string, error) {
	b, err := k.pub.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// ParsePublicKey decodes a base64 public key for the named scheme.
func ParsePublicKey(schemeName, b64 string) (sign.PublicKey, error) {
	sch, err := lookupScheme(schemeName)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, err
	}
	return sch.UnmarshalBinaryPublicKey(raw)
}

func (k *Key) sign(msg []byte) []byte {
	return k.scheme.Sign(k.priv, msg, nil)
}
