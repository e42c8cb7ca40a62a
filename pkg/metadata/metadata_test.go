package metadata_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kiss-pkg/kiss/pkg/metadata"
	"github.com/stretchr/testify/require"
)

func writeDef(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestValidName(t *testing.T) {
	require.True(t, metadata.ValidName("openssl"))
	require.False(t, metadata.ValidName(""))
	require.False(t, metadata.ValidName("foo*"))
	require.False(t, metadata.ValidName("foo!bar"))
	require.False(t, metadata.ValidName("foo[bar]"))
}

func TestVersionLess(t *testing.T) {
	v1 := metadata.Version{Upstream: "1.0", Release: "1"}
	v2 := metadata.Version{Upstream: "1.1", Release: "1"}
	require.True(t, v1.Less(v2))
	require.False(t, v2.Less(v1))
	require.Equal(t, "1.0-1", v1.String())
}

func TestReadVersion(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, map[string]string{"version": "1.2.3 1\n"})
	v, err := metadata.ReadVersion(dir)
	require.NoError(t, err)
	require.Equal(t, metadata.Version{Upstream: "1.2.3", Release: "1"}, v)
}

func TestReadVersionMissingRelease(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, map[string]string{"version": "1.2.3\n"})
	_, err := metadata.ReadVersion(dir)
	require.Error(t, err)
}

func TestReadSources(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, map[string]string{
		"sources": "https://ex/lib-1.0.tar.gz\n# a comment\npatches/fix.patch patches\n",
	})
	sources, err := metadata.ReadSources(dir)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.True(t, sources[0].IsURL())
	require.Equal(t, "lib-1.0.tar.gz", sources[0].Basename())
	require.False(t, sources[1].IsURL())
	require.Equal(t, "patches", sources[1].Dest)
}

func TestReadSourcesMissingIsEmpty(t *testing.T) {
	dir := t.TempDir()
	sources, err := metadata.ReadSources(dir)
	require.NoError(t, err)
	require.Nil(t, sources)
}

func TestReadDepends(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, map[string]string{
		"depends": "gcc make\nzlib\n# skip this\n",
	})
	deps, err := metadata.ReadDepends(dir)
	require.NoError(t, err)
	require.Equal(t, []metadata.Depend{
		{Name: "gcc", Kind: metadata.Make},
		{Name: "zlib", Kind: metadata.Run},
	}, deps)
}

func TestHasMarker(t *testing.T) {
	dir := t.TempDir()
	require.False(t, metadata.HasMarker(dir, "nostrip"))
	writeDef(t, dir, map[string]string{"nostrip": ""})
	require.True(t, metadata.HasMarker(dir, "nostrip"))
}

func TestLintRequiresSources(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, map[string]string{"version": "1.0 1\n"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build"), []byte("#!/bin/sh\n"), 0o755))
	err := metadata.Lint(dir)
	require.Error(t, err)
}

func TestLintRequiresExecutableBuild(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, map[string]string{
		"version": "1.0 1\n",
		"sources": "",
		"build":   "#!/bin/sh\n",
	})
	err := metadata.Lint(dir)
	require.Error(t, err, "build script not executable")
}

func TestLintSucceeds(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, map[string]string{
		"version": "1.0 1\n",
		"sources": "",
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, metadata.Lint(dir))
}
