package service

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
)

// CheckIdentity enforces the identity rules of a submission. For a new entry (existing == nil)
// uniqueness is left to the catalog lookup and the storage constraint. An update must keep both
// the application id and the architecture; the version may change.
func CheckIdentity(meta model.PackageMetadata, existing *model.App) error {
	if existing == nil {
		return nil
	}
	if meta.ApplicationID != existing.AppID {
		return fmt.Errorf("%w: from %s to %s", errs.ErrIdentityChangeRejected, existing.AppID, meta.ApplicationID)
	}
	if meta.Architecture != existing.Architecture {
		return fmt.Errorf("%w: from %s to %s", errs.ErrArchitectureChangeRejected, existing.Architecture, meta.Architecture)
	}
	return nil
}

// DeriveTags builds the searchable tag list of an entry: lower-cased words of at least two
// characters, de-duplicated and sorted.
func DeriveTags(displayName, vendor, category string, extra ...string) []string {
	seen := make(map[string]struct{})
	add := func(s string) {
		for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if utf8.RuneCountInString(w) >= 2 {
				seen[w] = struct{}{}
			}
		}
	}
	add(displayName)
	add(vendor)
	add(category)
	for _, e := range extra {
		add(e)
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// storageKey maps an identity to a flat, filesystem-safe file stem. Each part keeps
// [A-Za-z0-9.-] and writes every other byte, and a leading dot, as _xx; the parts are joined
// by '+', which never survives escaping. Distinct identities therefore never share a stem.
func storageKey(appID, arch string) string {
	return escapeKeyPart(appID) + "+" + escapeKeyPart(arch)
}

func escapeKeyPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.' && i > 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

// revisionName names the file of one revision of an identity: the stem, the first eight
// digest bytes in hex, then ext.
func revisionName(appID, arch string, digest []byte, ext string) string {
	n := min(len(digest), 8)
	return fmt.Sprintf("%s.%x%s", storageKey(appID, arch), digest[:n], ext)
}

// IconFileName is the icon store name of one revision of an identity.
func IconFileName(appID, arch string, digest []byte) string {
	return revisionName(appID, arch, digest, ".png")
}

// PackageFileName is the package store name of one revision of an identity.
func PackageFileName(appID, arch string, digest []byte) string {
	return revisionName(appID, arch, digest, ".appkg")
}
