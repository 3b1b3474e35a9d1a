// Package appkg reads and writes application packages: a gzip-compressed tar stream made of a
// header entry, the payload (manifest, icon and application files) and trailing footers.
package appkg

import (
	"encoding/hex"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Well-known entry names and limits.
const (
	HeaderName   = "--PACKAGE-HEADER--"
	FooterName   = "--PACKAGE-FOOTER--"
	ManifestName = "info.yaml"

	HeaderFormatType    = "appstore-package-header"
	HeaderFormatVersion = 1

	MaxManifestSize = 64 << 10
	MaxIconSize     = 1 << 20
)

// Header is the first entry of every package.
type Header struct {
	FormatType    string `yaml:"formatType"`
	FormatVersion int    `yaml:"formatVersion"`
	ApplicationID string `yaml:"applicationId"`
	DiskSpaceUsed int64  `yaml:"diskSpaceUsed,omitempty"`
}

// NewHeader returns a header for the given application id.
func NewHeader(appID string) Header {
	return Header{FormatType: HeaderFormatType, FormatVersion: HeaderFormatVersion, ApplicationID: appID}
}

// Manifest is the decoded info.yaml payload entry.
type Manifest struct {
	ID           string        `yaml:"id"`
	Name         LocalizedName `yaml:"name"`
	Version      string        `yaml:"version"`
	Architecture string        `yaml:"architecture"`
	Icon         string        `yaml:"icon"`
	Categories   []string      `yaml:"categories,omitempty"`
}

// LocalizedName accepts either a plain string or a language->string map.
type LocalizedName map[string]string

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *LocalizedName) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*n = LocalizedName{"": value.Value}
		return nil
	case yaml.MappingNode:
		m := map[string]string{}
		if err := value.Decode(&m); err != nil {
			return err
		}
		*n = m
		return nil
	default:
		return fmt.Errorf("name: unexpected yaml kind %d", value.Kind)
	}
}

// Pick returns the English name, the untagged name or the first name in key order.
func (n LocalizedName) Pick() string {
	for _, k := range []string{"en", "en_US", ""} {
		if v := n[k]; v != "" {
			return v
		}
	}
	keys := make([]string, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if n[k] != "" {
			return n[k]
		}
	}
	return ""
}

// Footer is a trailing entry. Packagers may declare a digest; the store adds its signature.
type Footer struct {
	Digest                  string `yaml:"digest,omitempty"`
	DeveloperSignature      string `yaml:"developerSignature,omitempty"`
	StoreSignature          string `yaml:"storeSignature,omitempty"`
	StoreSignatureAlgorithm string `yaml:"storeSignatureAlgorithm,omitempty"`
	StoreDeviceID           string `yaml:"storeDeviceId,omitempty"`
}

// Digest is a BLAKE3-256 content digest over the payload entries.
type Digest [32]byte

// String returns the lower-case hex encoding.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// ParseDigest decodes a hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("digest: want %d bytes, got %d", len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Metadata is the validated, immutable description of a package.
type Metadata struct {
	ApplicationID string
	DisplayName   string
	Architecture  string
	Version       string
	Categories    []string
	IconBytes     []byte
	ContentDigest Digest
}

func (m Metadata) clone() Metadata {
	m.Categories = append([]string(nil), m.Categories...)
	m.IconBytes = append([]byte(nil), m.IconBytes...)
	return m
}
