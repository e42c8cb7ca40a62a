package build_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiss-pkg/kiss/pkg/build"
	"github.com/kiss-pkg/kiss/pkg/env"
	"github.com/kiss-pkg/kiss/pkg/installdb"
	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/kissfakes"
	"github.com/kiss-pkg/kiss/pkg/klog"
	"github.com/kiss-pkg/kiss/pkg/repo"
	"github.com/stretchr/testify/require"
)

// fakeInstaller records which tarballs the build driver asked to have
// installed immediately, without touching any filesystem state.
type fakeInstaller struct {
	Installed []string
}

func (f *fakeInstaller) InstallTarball(_ context.Context, tarballPath string) error {
	f.Installed = append(f.Installed, filepath.Base(tarballPath))
	return nil
}

// writePackage creates a minimal, lintable package definition under
// repoRoot/name: version, an empty sources file (no fetching needed),
// checksums matching no sources, an executable build script, and an
// optional depends file.
func writePackage(t *testing.T, repoRoot, name, depends string) {
	t.Helper()
	dir := filepath.Join(repoRoot, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version"), []byte("1.0 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checksums"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build"), []byte("#!/bin/sh\nmkdir -p \"$1/usr/bin\"\ntouch \"$1/usr/bin/$(basename $0)\"\n"), 0o755))
	if depends != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "depends"), []byte(depends), 0o644))
	}
}

func newPipeline(t *testing.T, repoRoot string, ex *kissfakes.Executor, installer *fakeInstaller) (*build.Pipeline, env.Config) {
	t.Helper()
	target := t.TempDir()
	cfg := env.Config{
		Root:     target,
		CacheDir: t.TempDir(),
		Pid:      "test",
		Prune:    nil,
	}
	dbRoot := cfg.InstalledDBRoot()
	require.NoError(t, os.MkdirAll(dbRoot, 0o755))
	db := installdb.New(dbRoot)
	repoIdx := repo.New([]string{repoRoot}, dbRoot)

	p := &build.Pipeline{
		Repo:     repoIdx,
		DB:       db,
		Cfg:      cfg,
		Reporter: klog.NewRecorder(),
		DL:       &kissfakes.Downloader{},
		Exec:     ex,
		Install:  installer,
	}
	return p, cfg
}

// Linear deps: a depends on b depends on c, all uninstalled. All
// three produce tarballs; b and c (dependencies of the explicit root a)
// install immediately, a does not.
func TestBuildLinearDepsInstallsDependenciesOnly(t *testing.T) {
	repoRoot := t.TempDir()
	writePackage(t, repoRoot, "a", "b\n")
	writePackage(t, repoRoot, "b", "c\n")
	writePackage(t, repoRoot, "c", "")

	ex := &kissfakes.Executor{}
	fi := &fakeInstaller{}
	p, cfg := newPipeline(t, repoRoot, ex, fi)

	require.NoError(t, p.Build(context.Background(), []string{"a"}, false))

	for _, name := range []string{"a", "b", "c"} {
		_, err := os.Stat(filepath.Join(cfg.BinCache(), name+"#1.0-1.tar.gz"))
		require.NoError(t, err, "%s must have produced a tarball", name)
	}

	require.ElementsMatch(t, []string{"b#1.0-1.tar.gz", "c#1.0-1.tar.gz"}, fi.Installed)
}

// Checksum enforcement: a byte difference between computed and
// stored checksums aborts build before invoking the build script.
func TestBuildChecksumMismatchAbortsBeforeBuildScript(t *testing.T) {
	repoRoot := t.TempDir()
	dir := filepath.Join(repoRoot, "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version"), []byte("1.0 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources"), []byte("lib.tar.gz\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.tar.gz"), []byte("source bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checksums"), []byte("0000000000000000000000000000000000000000000000000000000000000000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build"), []byte("#!/bin/sh\nexit 1\n"), 0o755))

	ex := &kissfakes.Executor{}
	fi := &fakeInstaller{}
	p, _ := newPipeline(t, repoRoot, ex, fi)

	err := p.Build(context.Background(), []string{"broken"}, false)
	require.Error(t, err)
	require.Empty(t, ex.Calls, "build script must never run after a checksum mismatch")
}

func TestBuildMissingChecksumsFileAborts(t *testing.T) {
	repoRoot := t.TempDir()
	dir := filepath.Join(repoRoot, "nochecksums")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "version"), []byte("1.0 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build"), []byte("#!/bin/sh\n"), 0o755))

	ex := &kissfakes.Executor{}
	fi := &fakeInstaller{}
	p, _ := newPipeline(t, repoRoot, ex, fi)

	err := p.Build(context.Background(), []string{"nochecksums"}, false)
	require.ErrorIs(t, err, kisserr.ErrMissingChecksums)
}
