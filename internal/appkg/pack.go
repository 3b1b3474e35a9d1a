package appkg

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PackDir writes the contents of dir as a package. dir must hold an info.yaml manifest; it becomes
// the first payload entry and the remaining tree follows in lexical order. A packager footer
// declaring the payload digest is appended.
func PackDir(dst io.Writer, dir string) (Digest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return Digest{}, fmt.Errorf("appkg: reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Digest{}, fmt.Errorf("appkg: manifest: %w", err)
	}
	if m.ID == "" {
		return Digest{}, fmt.Errorf("appkg: manifest has no id")
	}

	w, err := NewWriter(dst, NewHeader(m.ID))
	if err != nil {
		return Digest{}, err
	}
	if err := w.AddFile(ManifestName, raw); err != nil {
		return Digest{}, err
	}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch {
		case rel == "." || rel == ManifestName:
			return nil
		case d.IsDir():
			return w.AddDir(rel)
		case !d.Type().IsRegular():
			return fmt.Errorf("appkg: %s is not a regular file", rel)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return w.AddFile(rel, data)
	})
	if err != nil {
		return Digest{}, err
	}

	digest := w.Digest()
	if err := w.AddFooter(Footer{Digest: digest.String()}); err != nil {
		return Digest{}, err
	}
	return digest, w.Close()
}
