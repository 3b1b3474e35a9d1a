package appkg

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"
)

// Writer emits a package: header first, then payload entries, then footers.
type Writer struct {
	gz      *gzip.Writer
	tw      *tar.Writer
	dg      *digester
	modTime time.Time
	footers bool
	closed  bool
}

// NewWriter writes the header entry and returns a Writer ready for payload.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	if h.FormatType == "" {
		h.FormatType = HeaderFormatType
	}
	if h.FormatVersion == 0 {
		h.FormatVersion = HeaderFormatVersion
	}
	pw := &Writer{
		gz:      gzip.NewWriter(w),
		dg:      newDigester(),
		modTime: time.Unix(0, 0).UTC(),
	}
	pw.tw = tar.NewWriter(pw.gz)
	if err := pw.writeYAML(HeaderName, h); err != nil {
		return nil, err
	}
	return pw, nil
}

var errPayloadAfterFooter = errors.New("appkg: payload after footer")

// AddFile appends a regular payload file.
func (w *Writer) AddFile(name string, data []byte) error {
	if w.footers {
		return errPayloadAfterFooter
	}
	clean, ok := cleanEntryName(name)
	if !ok {
		return fmt.Errorf("appkg: unsafe entry path %q", name)
	}
	hdr := &tar.Header{
		Name:     clean,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  w.modTime,
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := w.tw.Write(data); err != nil {
		return err
	}
	return w.dg.entry(kindFile, clean, hdr.Size, bytes.NewReader(data))
}

// AddDir appends a directory payload entry.
func (w *Writer) AddDir(name string) error {
	if w.footers {
		return errPayloadAfterFooter
	}
	clean, ok := cleanEntryName(name)
	if !ok {
		return fmt.Errorf("appkg: unsafe entry path %q", name)
	}
	hdr := &tar.Header{
		Name:     clean + "/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
		ModTime:  w.modTime,
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	return w.dg.entry(kindDir, clean, 0, nil)
}

// AddFooter appends a footer. No payload may follow.
func (w *Writer) AddFooter(f Footer) error {
	w.footers = true
	return w.writeYAML(FooterName, f)
}

// Digest returns the digest of the payload written so far.
func (w *Writer) Digest() Digest { return w.dg.sum() }

// Close flushes the tar and gzip streams. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.tw.Close(); err != nil {
		return err
	}
	return w.gz.Close()
}

func (w *Writer) writeYAML(name string, v any) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(raw)),
		ModTime:  w.modTime,
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = w.tw.Write(raw)
	return err
}

// AppendFooter streams every entry of the package in src to dst unchanged and appends f as
// the last footer. The payload is not re-validated and the digest is not recomputed.
func AppendFooter(dst io.Writer, src io.Reader, f Footer) error {
	zr, err := gzip.NewReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	gz := gzip.NewWriter(dst)
	tw := tar.NewWriter(gz)
	tr := tar.NewReader(zr)
	modTime := time.Unix(0, 0).UTC()
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.Copy(tw, tr); err != nil {
				return err
			}
		}
		if hdr.ModTime.After(modTime) {
			modTime = hdr.ModTime
		}
	}

	raw, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:     FooterName,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(raw)),
		ModTime:  modTime,
		Format:   tar.FormatPAX,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(raw); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
