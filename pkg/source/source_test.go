package source_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/kissfakes"
	"github.com/kiss-pkg/kiss/pkg/metadata"
	"github.com/kiss-pkg/kiss/pkg/source"
	"github.com/stretchr/testify/require"
)

// A source already present in the cache is reused
// and the downloader is never invoked.
func TestFetchReusesCachedDownload(t *testing.T) {
	cacheDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "lib-1.0.tar.gz"), []byte("cached bytes"), 0o644))

	dl := &kissfakes.Downloader{Blobs: map[string][]byte{}}
	cache := &source.Cache{Dir: cacheDir, DefDir: t.TempDir(), DL: dl}

	paths, err := cache.Fetch(context.Background(), []metadata.Source{{Src: "https://ex/lib-1.0.tar.gz"}})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(cacheDir, "lib-1.0.tar.gz")}, paths)
	require.Empty(t, dl.Calls, "cached source must not trigger a download")
}

func TestFetchDownloadsMissingURL(t *testing.T) {
	cacheDir := t.TempDir()
	dl := &kissfakes.Downloader{Blobs: map[string][]byte{"https://ex/lib-1.0.tar.gz": []byte("fresh bytes")}}
	cache := &source.Cache{Dir: cacheDir, DefDir: t.TempDir(), DL: dl}

	paths, err := cache.Fetch(context.Background(), []metadata.Source{{Src: "https://ex/lib-1.0.tar.gz"}})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, []string{"https://ex/lib-1.0.tar.gz"}, dl.Calls)
}

func TestFetchLocalSource(t *testing.T) {
	defDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(defDir, "patch.diff"), []byte("diff"), 0o644))
	cache := &source.Cache{Dir: t.TempDir(), DefDir: defDir, DL: &kissfakes.Downloader{}}

	paths, err := cache.Fetch(context.Background(), []metadata.Source{{Src: "patch.diff"}})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(defDir, "patch.diff")}, paths)
}

func TestFetchMissingLocalSourceFails(t *testing.T) {
	cache := &source.Cache{Dir: t.TempDir(), DefDir: t.TempDir(), DL: &kissfakes.Downloader{}}
	_, err := cache.Fetch(context.Background(), []metadata.Source{{Src: "missing.diff"}})
	require.Error(t, err)
}

// Editing a cached source's bytes must fail
// verification.
func TestVerifyDetectsMismatch(t *testing.T) {
	defDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(defDir, "checksums"), []byte("deadbeef\n"), 0o644))

	srcPath := filepath.Join(t.TempDir(), "lib-1.0.tar.gz")
	require.NoError(t, os.WriteFile(srcPath, []byte("edited bytes"), 0o644))

	sums, err := source.Checksum([]string{srcPath})
	require.NoError(t, err)
	err = source.Verify(defDir, sums)
	require.ErrorIs(t, err, kisserr.ErrChecksumMismatch)
}

func TestVerifySucceedsOnMatch(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "lib-1.0.tar.gz")
	require.NoError(t, os.WriteFile(srcPath, []byte("stable bytes"), 0o644))

	sums, err := source.Checksum([]string{srcPath})
	require.NoError(t, err)

	defDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(defDir, "checksums"), []byte(sums[0]+"\n"), 0o644))

	require.NoError(t, source.Verify(defDir, sums))
}
