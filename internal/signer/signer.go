package signer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cloudflare/circl/sign"

	"github.com/and161185/appstore/internal/appkg"
	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/storage/localfs"
)

// Message returns the signed bytes: digest || deviceID. With an empty deviceID the
// signature binds the digest alone.
func Message(digest []byte, deviceID string) []byte {
	msg := make([]byte, 0, len(digest)+len(deviceID))
	msg = append(msg, digest...)
	return append(msg, deviceID...)
}

// Signer produces device-bound copies of packages.
type Signer struct {
	key *Key
}

// New constructs a Signer. A nil key makes every Sign call fail with
// errs.ErrSigningKeyUnavailable.
func New(key *Key) *Signer { return &Signer{key: key} }

// SignDigest returns the raw signature over digest || deviceID.
func (s *Signer) SignDigest(digest []byte, deviceID string) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errs.ErrSigningKeyUnavailable
	}
	if len(digest) == 0 {
		return nil, fmt.Errorf("%w: empty content digest", errs.ErrSourceUnreadable)
	}
	return s.key.sign(Message(digest, deviceID)), nil
}

// Sign copies the package at src to dst, appending a store footer whose signature binds
// digest to deviceID. The digest is trusted as computed at validation time; the payload is
// streamed once and not re-validated. dst appears atomically or not at all.
func (s *Signer) Sign(src, dst string, digest []byte, deviceID string) error {
	sig, err := s.SignDigest(digest, deviceID)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSourceUnreadable, err)
	}
	defer in.Close()

	footer := appkg.Footer{
		StoreSignature:          base64.StdEncoding.EncodeToString(sig),
		StoreSignatureAlgorithm: s.key.Algorithm(),
		StoreDeviceID:           deviceID,
	}
	err = localfs.WriteFileAtomic(dst, 0o644, func(w io.Writer) error {
		tw := &trackingWriter{w: w}
		if err := appkg.AppendFooter(tw, in, footer); err != nil {
			if tw.err != nil {
				return fmt.Errorf("%w: %v", errs.ErrDestinationUnwritable, err)
			}
			return fmt.Errorf("%w: %v", errs.ErrSourceUnreadable, err)
		}
		return nil
	})
	if err == nil || errors.Is(err, errs.ErrSourceUnreadable) || errors.Is(err, errs.ErrDestinationUnwritable) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrDestinationUnwritable, err)
}

// trackingWriter remembers the first write failure so that callers can tell source
// errors from destination errors.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}

// ErrBadSignature is returned when a store signature does not verify.
var ErrBadSignature = errors.New("signer: bad store signature")

// Verify checks sig over digest || deviceID.
func Verify(pub sign.PublicKey, digest []byte, deviceID string, sig []byte) error {
	if pub == nil {
		return errs.ErrSigningKeyUnavailable
	}
	if !pub.Scheme().Verify(pub, Message(digest, deviceID), sig, nil) {
		return ErrBadSignature
	}
	return nil
}

// VerifyPackage validates a signed package and checks its last store signature for deviceID.
func VerifyPackage(r io.ReaderAt, size int64, pub sign.PublicKey, deviceID string) error {
	pkg, err := appkg.Parse(r, size)
	if err != nil {
		return err
	}
	var store *appkg.Footer
	for _, f := range pkg.Footers() {
		if f.StoreSignature != "" {
			store = &f
		}
	}
	if store == nil {
		return fmt.Errorf("%w: package carries no store signature", ErrBadSignature)
	}
	if pub == nil {
		return errs.ErrSigningKeyUnavailable
	}
	if store.StoreSignatureAlgorithm != pub.Scheme().Name() {
		return fmt.Errorf("%w: signed with %s, key is %s", ErrBadSignature, store.StoreSignatureAlgorithm, pub.Scheme().Name())
	}
	sig, err := base64.StdEncoding.DecodeString(store.StoreSignature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	digest := pkg.Metadata().ContentDigest
	return Verify(pub, digest[:], deviceID, sig)
}
