// Package appkgtest builds packages for tests.
package appkgtest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sort"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/and161185/appstore/internal/appkg"
)

// Options describes the package to build. Zero values get sensible defaults.
type Options struct {
	AppID        string
	HeaderAppID  string
	Name         string
	Version      string
	Architecture string
	IconName     string
	Icon         []byte
	Categories   []string
	Files        map[string][]byte
	Footers      []appkg.Footer
	// RawManifest replaces the generated info.yaml when non-nil.
	RawManifest []byte
	// DeclareDigest adds a packager footer declaring the payload digest.
	DeclareDigest bool
}

// Defaults returns options for a minimal valid package.
func Defaults() Options {
	return Options{
		AppID:        "com.acme.app",
		Name:         "Acme App",
		Version:      "1.0",
		Architecture: "arm64",
		IconName:     "icon.png",
		Files:        map[string][]byte{"bin/app": []byte("\x7fELF payload")},
	}
}

// PNG returns a small valid PNG image.
func PNG(t testing.TB) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 0xff, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

// Build returns the encoded package and its payload digest.
func Build(t testing.TB, o Options) ([]byte, appkg.Digest) {
	t.Helper()
	headerID := o.HeaderAppID
	if headerID == "" {
		headerID = o.AppID
	}
	icon := o.Icon
	if icon == nil {
		icon = PNG(t)
	}

	var buf bytes.Buffer
	w, err := appkg.NewWriter(&buf, appkg.NewHeader(headerID))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	manifest := o.RawManifest
	if manifest == nil {
		m := map[string]any{
			"id":           o.AppID,
			"name":         map[string]string{"en": o.Name},
			"version":      o.Version,
			"architecture": o.Architecture,
			"icon":         o.IconName,
		}
		if len(o.Categories) > 0 {
			m["categories"] = o.Categories
		}
		if manifest, err = yaml.Marshal(m); err != nil {
			t.Fatalf("manifest: %v", err)
		}
	}
	if err := w.AddFile(appkg.ManifestName, manifest); err != nil {
		t.Fatalf("AddFile manifest: %v", err)
	}
	if o.IconName != "" {
		if err := w.AddFile(o.IconName, icon); err != nil {
			t.Fatalf("AddFile icon: %v", err)
		}
	}
	names := make([]string, 0, len(o.Files))
	for name := range o.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.AddFile(name, o.Files[name]); err != nil {
			t.Fatalf("AddFile %s: %v", name, err)
		}
	}
	digest := w.Digest()
	if o.DeclareDigest {
		if err := w.AddFooter(appkg.Footer{Digest: digest.String()}); err != nil {
			t.Fatalf("AddFooter: %v", err)
		}
	}
	for _, f := range o.Footers {
		if err := w.AddFooter(f); err != nil {
			t.Fatalf("AddFooter: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes(), digest
}
