package installdb_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kiss-pkg/kiss/pkg/installdb"
	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/metadata"
	"github.com/stretchr/testify/require"
)

func TestBuildManifestReverseSorted(t *testing.T) {
	stage := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(stage, "usr/bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stage, "usr/bin/foo"), []byte("x"), 0o755))

	entries, err := installdb.BuildManifest(stage)
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/bin/foo", "/usr/bin/", "/usr/"}, entries)
}

func TestWriteAndReadManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest")
	lines := []string{"/usr/bin/foo", "/usr/bin/", "/usr/"}

	require.NoError(t, installdb.WriteManifest(path, lines))
	got, err := installdb.ReadManifestFile(path)
	require.NoError(t, err)
	require.Equal(t, lines, got)
}

func TestDBIsInstalledAndList(t *testing.T) {
	root := t.TempDir()
	db := installdb.New(root)
	require.False(t, db.IsInstalled("foo"))

	entry := db.EntryDir("foo")
	require.NoError(t, os.MkdirAll(entry, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(entry, "version"), []byte("1.0 1\n"), 0o644))

	require.True(t, db.IsInstalled("foo"))

	installed, err := db.List(nil)
	require.NoError(t, err)
	require.Equal(t, []installdb.Installed{{Name: "foo", Version: metadata.Version{Upstream: "1.0", Release: "1"}}}, installed)

	_, err = db.List([]string{"bar"})
	require.ErrorIs(t, err, kisserr.ErrNotInstalled)
}

func TestDBRemove(t *testing.T) {
	root := t.TempDir()
	db := installdb.New(root)
	entry := db.EntryDir("foo")
	require.NoError(t, os.MkdirAll(entry, 0o755))

	require.NoError(t, db.Remove("foo"))
	require.False(t, db.IsInstalled("foo"))
}
