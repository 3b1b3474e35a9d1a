package appkg

import (
	"encoding/binary"
	"io"

	"github.com/zeebo/blake3"
)

const (
	kindFile byte = 'F'
	kindDir  byte = 'D'
)

// digester accumulates the payload digest. Every entry is framed as
// kind | len(path) | path | size | bytes so that no two payloads share an encoding.
type digester struct{ h *blake3.Hasher }

func newDigester() *digester { return &digester{h: blake3.New()} }

func (d *digester) entry(kind byte, name string, size int64, body io.Reader) error {
	var n [8]byte
	_, _ = d.h.Write([]byte{kind})
	binary.BigEndian.PutUint64(n[:], uint64(len(name)))
	_, _ = d.h.Write(n[:])
	_, _ = d.h.Write([]byte(name))
	binary.BigEndian.PutUint64(n[:], uint64(size))
	_, _ = d.h.Write(n[:])
	if body == nil {
		return nil
	}
	copied, err := io.Copy(d.h, body)
	if err != nil {
		return err
	}
	if copied != size {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (d *digester) sum() Digest {
	var out Digest
	copy(out[:], d.h.Sum(nil))
	return out
}
