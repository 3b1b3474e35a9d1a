package appkg

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/and161185/appstore/internal/errs"
)

// Package is a validated package: its metadata plus a rewindable view of the original bytes.
type Package struct {
	meta    Metadata
	footers []Footer
	src     io.ReaderAt
	size    int64
}

// Metadata returns a copy of the validated metadata.
func (p *Package) Metadata() Metadata { return p.meta.clone() }

// Footers returns the footers found in the package.
func (p *Package) Footers() []Footer { return append([]Footer(nil), p.footers...) }

// StoreSigned reports whether any footer already carries a store signature.
func (p *Package) StoreSigned() bool {
	for _, f := range p.footers {
		if f.StoreSignature != "" {
			return true
		}
	}
	return false
}

// Open returns a fresh reader positioned at the start of the original bytes.
func (p *Package) Open() *io.SectionReader { return io.NewSectionReader(p.src, 0, p.size) }

// Size returns the package size in bytes.
func (p *Package) Size() int64 { return p.size }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrMalformedPackage, fmt.Sprintf(format, args...))
}

// Parse validates the package in src and returns its metadata. Parse reads through its own
// section reader, so the position of any stream backing src is left untouched.
//
// Checks run in a fixed order and each maps to one sentinel: container structure
// (errs.ErrMalformedPackage), required manifest fields (errs.ErrMissingField), the icon
// (errs.ErrInvalidIcon) and the payload digest (errs.ErrDigest).
func Parse(src io.ReaderAt, size int64) (*Package, error) {
	if src == nil || size <= 0 {
		return nil, malformed("empty package")
	}
	zr, err := gzip.NewReader(io.NewSectionReader(src, 0, size))
	if err != nil {
		return nil, malformed("not a gzip stream: %v", err)
	}
	defer zr.Close()

	var (
		tr        = tar.NewReader(zr)
		dg        = newDigester()
		header    *Header
		manifest  *Manifest
		footers   []Footer
		icon      []byte
		iconFound bool
		iconBig   bool
		payload   int
	)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed("reading archive: %v", err)
		}

		if header == nil {
			if hdr.Name != HeaderName || hdr.Typeflag != tar.TypeReg {
				return nil, malformed("first entry must be %s", HeaderName)
			}
			h, err := decodeYAML[Header](tr, MaxManifestSize)
			if err != nil {
				return nil, malformed("header: %v", err)
			}
			if h.FormatType != HeaderFormatType || h.FormatVersion != HeaderFormatVersion {
				return nil, malformed("unsupported header format %q v%d", h.FormatType, h.FormatVersion)
			}
			if h.ApplicationID == "" {
				return nil, malformed("header has no applicationId")
			}
			header = &h
			continue
		}

		if hdr.Name == FooterName {
			if hdr.Typeflag != tar.TypeReg {
				return nil, malformed("footer is not a regular file")
			}
			f, err := decodeYAML[Footer](tr, MaxManifestSize)
			if err != nil {
				return nil, malformed("footer: %v", err)
			}
			footers = append(footers, f)
			continue
		}
		if len(footers) > 0 {
			return nil, malformed("payload entry %q after footer", hdr.Name)
		}
		if hdr.Name == HeaderName {
			return nil, malformed("duplicate header")
		}

		name, ok := cleanEntryName(hdr.Name)
		if !ok {
			return nil, malformed("unsafe entry path %q", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if payload == 0 {
				return nil, malformed("first payload entry must be %s", ManifestName)
			}
			if err := dg.entry(kindDir, name, 0, nil); err != nil {
				return nil, malformed("reading %q: %v", name, err)
			}
		case tar.TypeReg:
			switch {
			case payload == 0:
				if name != ManifestName {
					return nil, malformed("first payload entry must be %s", ManifestName)
				}
				raw, err := readLimited(tr, MaxManifestSize)
				if err != nil {
					return nil, malformed("manifest: %v", err)
				}
				var m Manifest
				if err := yaml.Unmarshal(raw, &m); err != nil {
					return nil, malformed("manifest: %v", err)
				}
				manifest = &m
				if err := dg.entry(kindFile, name, hdr.Size, bytes.NewReader(raw)); err != nil {
					return nil, malformed("manifest: %v", err)
				}
			case name == ManifestName:
				return nil, malformed("duplicate manifest")
			case !iconFound && manifest.Icon != "" && name == path.Clean(manifest.Icon):
				iconFound = true
				head, err := io.ReadAll(io.LimitReader(tr, MaxIconSize+1))
				if err != nil {
					return nil, malformed("reading %q: %v", name, err)
				}
				if len(head) > MaxIconSize {
					iconBig = true
				} else {
					icon = head
				}
				if err := dg.entry(kindFile, name, hdr.Size, io.MultiReader(bytes.NewReader(head), tr)); err != nil {
					return nil, malformed("reading %q: %v", name, err)
				}
			default:
				if err := dg.entry(kindFile, name, hdr.Size, tr); err != nil {
					return nil, malformed("reading %q: %v", name, err)
				}
			}
		default:
			return nil, malformed("unsupported entry type for %q", hdr.Name)
		}
		payload++
	}

	if header == nil {
		return nil, malformed("missing %s", HeaderName)
	}
	if manifest == nil {
		return nil, malformed("missing %s", ManifestName)
	}
	if manifest.ID != "" && manifest.ID != header.ApplicationID {
		return nil, malformed("header applicationId %q does not match manifest id %q", header.ApplicationID, manifest.ID)
	}

	for _, f := range []struct{ name, value string }{
		{"id", manifest.ID},
		{"architecture", manifest.Architecture},
		{"version", manifest.Version},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, fmt.Errorf("%w: %s", errs.ErrMissingField, f.name)
		}
	}

	switch {
	case manifest.Icon == "":
		return nil, fmt.Errorf("%w: manifest declares no icon", errs.ErrInvalidIcon)
	case !iconFound:
		return nil, fmt.Errorf("%w: %s not found in package", errs.ErrInvalidIcon, manifest.Icon)
	case iconBig:
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", errs.ErrInvalidIcon, manifest.Icon, MaxIconSize)
	}
	if _, err := png.Decode(bytes.NewReader(icon)); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidIcon, err)
	}

	digest := dg.sum()
	for _, f := range footers {
		if f.Digest == "" {
			continue
		}
		declared, err := ParseDigest(f.Digest)
		if err != nil {
			return nil, fmt.Errorf("%w: footer digest: %v", errs.ErrDigest, err)
		}
		if declared != digest {
			return nil, fmt.Errorf("%w: footer digest %s does not match payload %s", errs.ErrDigest, declared, digest)
		}
	}

	displayName := manifest.Name.Pick()
	if displayName == "" {
		displayName = manifest.ID
	}
	return &Package{
		meta: Metadata{
			ApplicationID: manifest.ID,
			DisplayName:   displayName,
			Architecture:  manifest.Architecture,
			Version:       manifest.Version,
			Categories:    append([]string(nil), manifest.Categories...),
			IconBytes:     icon,
			ContentDigest: digest,
		},
		footers: footers,
		src:     src,
		size:    size,
	}, nil
}

// cleanEntryName rejects absolute, parent-relative and backslash paths.
func cleanEntryName(name string) (string, bool) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", false
	}
	c := path.Clean(strings.TrimSuffix(name, "/"))
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", false
	}
	return c, true
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("entry exceeds %d bytes", limit)
	}
	return b, nil
}

func decodeYAML[T any](r io.Reader, limit int64) (T, error) {
	var v T
	raw, err := readLimited(r, limit)
	if err != nil {
		return v, err
	}
	err = yaml.Unmarshal(raw, &v)
	return v, err
}
