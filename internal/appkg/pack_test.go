package appkg_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/appstore/internal/appkg"
	"github.com/and161185/appstore/internal/appkg/appkgtest"
)

func TestPackDir(t *testing.T) {
	dir := t.TempDir()
	manifest := "id: com.acme.radio\nname:\n  en: Radio\nversion: \"2.1\"\narchitecture: x86_64\nicon: icon.png\ncategories: [Media]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, appkg.ManifestName), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "icon.png"), appkgtest.PNG(t), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "radio"), []byte("binary"), 0o755))

	var buf bytes.Buffer
	digest, err := appkg.PackDir(&buf, dir)
	require.NoError(t, err)

	pkg, err := parseBytes(buf.Bytes())
	require.NoError(t, err)
	m := pkg.Metadata()
	require.Equal(t, "com.acme.radio", m.ApplicationID)
	require.Equal(t, "Radio", m.DisplayName)
	require.Equal(t, "x86_64", m.Architecture)
	require.Equal(t, digest, m.ContentDigest)
	require.Len(t, pkg.Footers(), 1)
	require.Equal(t, digest.String(), pkg.Footers()[0].Digest)

	var again bytes.Buffer
	d2, err := appkg.PackDir(&again, dir)
	require.NoError(t, err)
	require.Equal(t, digest, d2)
	require.Equal(t, buf.Bytes(), again.Bytes())
}

func TestPackDir_NoManifest(t *testing.T) {
	_, err := appkg.PackDir(&bytes.Buffer{}, t.TempDir())
	require.Error(t, err)
}
