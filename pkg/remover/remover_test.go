package remover_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kiss-pkg/kiss/pkg/env"
	"github.com/kiss-pkg/kiss/pkg/installdb"
	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/klog"
	"github.com/kiss-pkg/kiss/pkg/remover"
	"github.com/stretchr/testify/require"
)

func installPackage(t *testing.T, root, target, name string, files map[string]string, depends string) {
	t.Helper()
	entry := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(entry, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(entry, "version"), []byte("1.0 1\n"), 0o644))
	if depends != "" {
		require.NoError(t, os.WriteFile(filepath.Join(entry, "depends"), []byte(depends), 0o644))
	}

	var manifest []string
	for rel, content := range files {
		full := filepath.Join(target, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		manifest = append(manifest, "/"+rel)
	}
	require.NoError(t, installdb.WriteManifest(filepath.Join(entry, "manifest"), manifest))
}

// Removing b while a depends on b aborts with
// RequiredBy, and b stays installed and intact.
func TestRemoveBlockedByDependent(t *testing.T) {
	target := t.TempDir()
	dbRoot := filepath.Join(target, "var/db/kiss/installed")
	require.NoError(t, os.MkdirAll(dbRoot, 0o755))

	installPackage(t, dbRoot, target, "b", map[string]string{"usr/bin/b": "binary"}, "")
	installPackage(t, dbRoot, target, "a", map[string]string{"usr/bin/a": "binary"}, "b\n")

	db := installdb.New(dbRoot)
	rec := klog.NewRecorder()
	rem := &remover.Remover{DB: db, Cfg: env.Config{Root: target}, Reporter: rec}

	err := rem.Remove("b")
	require.ErrorIs(t, err, kisserr.ErrRequiredBy)
	require.True(t, db.IsInstalled("b"))
	_, statErr := os.Stat(filepath.Join(target, "usr/bin/b"))
	require.NoError(t, statErr)
}

func TestRemoveDeletesManifestEntries(t *testing.T) {
	target := t.TempDir()
	dbRoot := filepath.Join(target, "var/db/kiss/installed")
	require.NoError(t, os.MkdirAll(dbRoot, 0o755))
	installPackage(t, dbRoot, target, "foo", map[string]string{"usr/bin/foo": "binary"}, "")

	db := installdb.New(dbRoot)
	rec := klog.NewRecorder()
	rem := &remover.Remover{DB: db, Cfg: env.Config{Root: target}, Reporter: rec}

	require.NoError(t, rem.Remove("foo"))
	require.False(t, db.IsInstalled("foo"))
	_, statErr := os.Stat(filepath.Join(target, "usr/bin/foo"))
	require.True(t, os.IsNotExist(statErr))
}

// Configuration preservation: remove never deletes files under /etc/.
func TestRemovePreservesEtc(t *testing.T) {
	target := t.TempDir()
	dbRoot := filepath.Join(target, "var/db/kiss/installed")
	require.NoError(t, os.MkdirAll(dbRoot, 0o755))
	installPackage(t, dbRoot, target, "foo", map[string]string{
		"usr/bin/foo":  "binary",
		"etc/foo.conf": "user edited config",
	}, "")

	db := installdb.New(dbRoot)
	rec := klog.NewRecorder()
	rem := &remover.Remover{DB: db, Cfg: env.Config{Root: target}, Reporter: rec}

	require.NoError(t, rem.Remove("foo"))
	data, err := os.ReadFile(filepath.Join(target, "etc/foo.conf"))
	require.NoError(t, err)
	require.Equal(t, "user edited config", string(data))
}

func TestRequiredByIsSorted(t *testing.T) {
	target := t.TempDir()
	dbRoot := filepath.Join(target, "var/db/kiss/installed")
	require.NoError(t, os.MkdirAll(dbRoot, 0o755))
	installPackage(t, dbRoot, target, "base", nil, "")
	installPackage(t, dbRoot, target, "zeta", nil, "base\n")
	installPackage(t, dbRoot, target, "alpha", nil, "base\n")

	db := installdb.New(dbRoot)
	rem := &remover.Remover{DB: db, Cfg: env.Config{Root: target}, Reporter: klog.NewRecorder()}

	dependents, err := rem.RequiredBy("base")
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "zeta"}, dependents)
}
