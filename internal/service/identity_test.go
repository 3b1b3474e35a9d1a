package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/appstore/internal/errs"
	"github.com/and161185/appstore/internal/model"
	"github.com/and161185/appstore/internal/storage/localfs"
)

func TestCheckIdentity(t *testing.T) {
	meta := model.PackageMetadata{ApplicationID: "com.acme.app", Architecture: "arm64", Version: "2.0"}

	require.NoError(t, CheckIdentity(meta, nil))
	require.NoError(t, CheckIdentity(meta, &model.App{AppID: "com.acme.app", Architecture: "arm64", Version: "1.0"}))

	err := CheckIdentity(meta, &model.App{AppID: "com.other.app", Architecture: "arm64"})
	require.ErrorIs(t, err, errs.ErrIdentityChangeRejected)
	require.True(t, errs.IsConflict(err))

	err = CheckIdentity(meta, &model.App{AppID: "com.acme.app", Architecture: "x86_64"})
	require.ErrorIs(t, err, errs.ErrArchitectureChangeRejected)
}

func TestDeriveTags(t *testing.T) {
	tags := DeriveTags("Acme Super-App 2", "ACME Corp.", "Games", "x", "racing games")
	require.Equal(t, []string{"acme", "app", "corp", "games", "racing", "super"}, tags)

	// deterministic and idempotent
	require.Equal(t, tags, DeriveTags("Acme Super-App 2", "ACME Corp.", "Games", "x", "racing games"))
	require.Empty(t, DeriveTags("", "", ""))
	require.Equal(t, []string{"äpfel", "über"}, DeriveTags("Über Äpfel", "", ""))
}

func TestStorageNames(t *testing.T) {
	digest := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	require.Equal(t, "com.acme.app+arm64.0102030405060708.png", IconFileName("com.acme.app", "arm64", digest))
	require.Equal(t, "com.acme.app+arm64.0102030405060708.appkg", PackageFileName("com.acme.app", "arm64", digest))
	require.Equal(t, "_2e._2fevil+x86_2f64.0102.png", IconFileName("../evil", "x86/64", []byte{1, 2}))
	require.Equal(t, "_2e+_2e.ff.png", IconFileName(".", ".", []byte{0xff}))
}

func TestStorageNames_DistinctIdentities(t *testing.T) {
	digest := []byte{0xaa, 0xbb}
	ids := [][2]string{
		{"com.victim.app", "x86_64"},
		{"com.victim.app_x86", "64"},
		{"com.victim.app_5fx86", "64"},
		{"com.victim.app", "x86/64"},
		{"com.victim.app", "x86+64"},
		{"com.victim.app+x86", "64"},
		{"../evil", "x86/64"},
		{"_2e._2fevil", "x86_2f64"},
		{"a+b", "c"},
		{"a", "b+c"},
		{".app", "arm64"},
		{"_2eapp", "arm64"},
	}
	seen := map[string][2]string{}
	for _, id := range ids {
		for _, name := range []string{
			IconFileName(id[0], id[1], digest),
			PackageFileName(id[0], id[1], digest),
		} {
			prev, dup := seen[name]
			require.False(t, dup, "%v and %v share %s", prev, id, name)
			seen[name] = id
			require.True(t, localfs.ValidName(name), name)
			require.NotContains(t, name, "/")
		}
	}
}
