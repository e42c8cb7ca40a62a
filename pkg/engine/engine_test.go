package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiss-pkg/kiss/pkg/build"
	"github.com/kiss-pkg/kiss/pkg/engine"
	"github.com/kiss-pkg/kiss/pkg/env"
	"github.com/kiss-pkg/kiss/pkg/installdb"
	"github.com/kiss-pkg/kiss/pkg/installer"
	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/kissfakes"
	"github.com/kiss-pkg/kiss/pkg/klog"
	"github.com/kiss-pkg/kiss/pkg/repo"
	"github.com/kiss-pkg/kiss/pkg/source"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, repoRoot string, dl source.Downloader) *engine.Engine {
	t.Helper()
	cfg := env.Config{
		SearchPath: []string{repoRoot},
		Root:       t.TempDir(),
		CacheDir:   t.TempDir(),
		Pid:        "test",
	}
	db := installdb.New(cfg.InstalledDBRoot())
	repoIdx := repo.New(cfg.SearchPath, cfg.InstalledDBRoot())
	rec := klog.NewRecorder()
	ex := &kissfakes.Executor{}

	inst := &installer.Installer{DB: db, Cfg: cfg, Reporter: rec, Exec: ex}
	pipeline := &build.Pipeline{
		Repo:     repoIdx,
		DB:       db,
		Cfg:      cfg,
		Reporter: rec,
		DL:       dl,
		Exec:     ex,
		Install:  inst,
	}

	return &engine.Engine{
		Cfg:       cfg,
		Reporter:  rec,
		Repo:      repoIdx,
		DB:        db,
		Pipeline:  pipeline,
		Installer: inst,
	}
}

func writeDef(t *testing.T, repoRoot, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(repoRoot, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
	}
}

// Installing a package name with no tarball in the bin cache fails with
// NotBuilt before anything touches the target root.
func TestInstallByNameWithoutTarballIsNotBuilt(t *testing.T) {
	repoRoot := t.TempDir()
	writeDef(t, repoRoot, "foo", map[string]string{"version": "1.0 1\n"})

	e := newEngine(t, repoRoot, &kissfakes.Downloader{})
	err := e.Install(context.Background(), []string{"foo"})
	require.ErrorIs(t, err, kisserr.ErrNotBuilt)
}

func TestInstallUnknownPackageIsNotFound(t *testing.T) {
	e := newEngine(t, t.TempDir(), &kissfakes.Downloader{})
	err := e.Install(context.Background(), []string{"ghost"})
	require.ErrorIs(t, err, kisserr.ErrNotFound)
}

// Search expands shell-style wildcards over every visible package name.
func TestSearchMatchesWildcards(t *testing.T) {
	repoRoot := t.TempDir()
	writeDef(t, repoRoot, "zlib", map[string]string{"version": "1.3 1\n"})
	writeDef(t, repoRoot, "zstd", map[string]string{"version": "1.5 1\n"})
	writeDef(t, repoRoot, "curl", map[string]string{"version": "8.0 1\n"})

	e := newEngine(t, repoRoot, &kissfakes.Downloader{})
	matches, err := e.Search("z*")
	require.NoError(t, err)
	require.Equal(t, []string{"zlib", "zstd"}, matches)
}

// The checksum action recomputes and overwrites the package's
// checksums file from its current sources.
func TestChecksumRegeneratesChecksumsFile(t *testing.T) {
	repoRoot := t.TempDir()
	writeDef(t, repoRoot, "foo", map[string]string{
		"version": "1.0 1\n",
		"sources": "files/data.txt\n",
	})
	filesDir := filepath.Join(repoRoot, "foo/files")
	require.NoError(t, os.MkdirAll(filesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(filesDir, "data.txt"), []byte("payload"), 0o644))

	e := newEngine(t, repoRoot, &kissfakes.Downloader{})
	require.NoError(t, e.Checksum(context.Background(), []string{"foo"}))

	data, err := os.ReadFile(filepath.Join(repoRoot, "foo/checksums"))
	require.NoError(t, err)
	// sha256("payload"), one line with a trailing newline.
	require.Equal(t, "239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5\n", string(data))
}
