// Package installer installs built tarballs: it identifies the package
// a tarball contains, checks for file conflicts against every other
// installed package, gates on missing runtime dependencies, and
// delivers the tarball's contents into the target root with the
// overwrite/ignore-existing/leftover-prune rules an upgrade needs.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiss-pkg/kiss/pkg/archive"
	"github.com/kiss-pkg/kiss/pkg/env"
	kexec "github.com/kiss-pkg/kiss/pkg/exec"
	"github.com/kiss-pkg/kiss/pkg/fsutil"
	"github.com/kiss-pkg/kiss/pkg/installdb"
	"github.com/kiss-pkg/kiss/pkg/interrupt"
	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/klog"
	"github.com/kiss-pkg/kiss/pkg/metadata"
)

// criticalExecutables are never pruned as upgrade leftovers even when a
// new manifest no longer lists them: deleting the shell or the copy and
// remove tools mid-upgrade would break the running system before the
// re-mirror restores them.
var criticalExecutables = map[string]bool{
	"/bin/sh":     true,
	"/bin/rm":     true,
	"/bin/cp":     true,
	"/usr/bin/sh": true,
	"/usr/bin/rm": true,
	"/usr/bin/cp": true,
}

// Installer implements the install procedure for tarballs already
// produced by pkg/build.
type Installer struct {
	DB       *installdb.DB
	Cfg      env.Config
	Reporter klog.Reporter
	Exec     kexec.Executor
	// Guard, if set, holds interrupts across the incremental-copy
	// critical section.
	Guard *interrupt.Guard
}

// InstallTarball extracts tarballPath, identifies the package it
// contains, runs the conflict and dependency gates, and delivers its
// files into the target root.
func (i *Installer) InstallTarball(ctx context.Context, tarballPath string) error {
	base := strings.TrimSuffix(filepath.Base(tarballPath), ".tar.gz")
	extractDir := filepath.Join(i.Cfg.ExtractRoot(), base)
	if err := os.RemoveAll(extractDir); err != nil {
		return err
	}
	if err := archive.ExtractAll(ctx, tarballPath, extractDir); err != nil {
		return fmt.Errorf("%w: %s", kisserr.ErrInvalidPackage, err)
	}
	defer os.RemoveAll(extractDir)

	name, err := identifyPackage(extractDir)
	if err != nil {
		return err
	}
	i.Reporter.Step(name, "Installing")

	newManifest, err := installdb.ReadManifestFile(filepath.Join(extractDir, env.InstalledDBRelPath, name, "manifest"))
	if err != nil {
		return i.Reporter.Fail(kisserr.ForPackage(name, fmt.Errorf("%w: %s", kisserr.ErrInvalidPackage, err)))
	}

	isUpgrade := i.DB.IsInstalled(name)
	var oldManifest []string
	if isUpgrade {
		oldManifest, err = i.DB.ReadManifest(name)
		if err != nil {
			return i.Reporter.Fail(kisserr.ForPackage(name, err))
		}
	}

	if err := i.checkConflicts(name, newManifest); err != nil {
		return i.Reporter.Fail(kisserr.ForPackage(name, err))
	}

	if !i.Cfg.Force {
		if err := i.checkDepends(extractDir, name); err != nil {
			return i.Reporter.Fail(kisserr.ForPackage(name, err))
		}
	}

	// The incremental copy and leftover prune run as a critical
	// section: an interrupt arriving mid-mutation is held until the
	// target root is back in a manifest-consistent state.
	if i.Guard != nil {
		i.Guard.Enter()
	}
	err = i.deliver(extractDir, name, oldManifest, newManifest)
	if i.Guard != nil {
		i.Guard.Leave()
	}
	if err != nil {
		return i.Reporter.Fail(kisserr.ForPackage(name, err))
	}

	i.runPostInstall(name)

	return i.Reporter.Done()
}

// identifyPackage reports the single package name an extracted tarball
// delivers: the tarball's installed-db entry names it.
func identifyPackage(extractDir string) (string, error) {
	dbRoot := filepath.Join(extractDir, env.InstalledDBRelPath)
	entries, err := os.ReadDir(dbRoot)
	if err != nil {
		return "", fmt.Errorf("%w: no installed-db entry in tarball: %s", kisserr.ErrInvalidPackage, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) != 1 {
		return "", fmt.Errorf("%w: expected exactly one package in tarball, found %d", kisserr.ErrInvalidPackage, len(names))
	}
	return names[0], nil
}

// checkConflicts requires that every regular file the new manifest
// delivers not already belong to a different installed package, unless
// that package is the one being upgraded. Each manifest line is checked
// both verbatim and with its parent directory's symlinks resolved under
// the target root, so a package delivering /lib/x collides with one
// delivering /usr/lib/x when /lib is a symlink to /usr/lib.
func (i *Installer) checkConflicts(name string, newManifest []string) error {
	installed, err := i.DB.List(nil)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, 2*len(newManifest))
	for _, line := range newManifest {
		if strings.HasSuffix(line, "/") {
			continue
		}
		wanted[line] = true
		if resolved, ok := i.resolveUnderRoot(line); ok {
			wanted[resolved] = true
		}
	}

	for _, pkg := range installed {
		if pkg.Name == name {
			continue
		}
		lines, err := i.DB.ReadManifest(pkg.Name)
		if err != nil {
			continue
		}
		for _, line := range lines {
			if wanted[line] {
				return fmt.Errorf("%w: %s also claims %s", kisserr.ErrConflict, pkg.Name, line)
			}
		}
	}
	return nil
}

// resolveUnderRoot resolves the symlinks in line's parent directory
// against the target root, returning the manifest-form path the file
// would actually land at, or ok=false when nothing resolves differently.
func (i *Installer) resolveUnderRoot(line string) (string, bool) {
	dir, base := filepath.Split(strings.TrimPrefix(line, "/"))
	real, err := filepath.EvalSymlinks(filepath.Join(i.Cfg.Root, dir))
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(i.Cfg.Root, real)
	if err != nil {
		return "", false
	}
	resolved := "/" + filepath.ToSlash(filepath.Join(rel, base))
	if resolved == line {
		return "", false
	}
	return resolved, true
}

// checkDepends requires every runtime dependency named by the
// package's staged definition to already be installed.
func (i *Installer) checkDepends(extractDir, name string) error {
	defDir := filepath.Join(extractDir, env.InstalledDBRelPath, name)
	deps, err := metadata.ReadDepends(defDir)
	if err != nil {
		return err
	}
	var missing []string
	for _, d := range deps {
		if d.Kind != metadata.Run {
			continue
		}
		if !i.DB.IsInstalled(d.Name) {
			missing = append(missing, d.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", kisserr.ErrMissingDeps, strings.Join(missing, ", "))
	}
	return nil
}

// deliver copies the extracted tree into the target root (overwrite
// outside /etc, ignore-existing inside /etc), then on an upgrade
// prunes leftovers the new manifest no longer claims and re-mirrors to
// restore anything the prune pass incorrectly swept up via a shared
// path.
func (i *Installer) deliver(extractDir, name string, oldManifest, newManifest []string) error {
	if err := i.mirrorTree(extractDir); err != nil {
		return err
	}

	if oldManifest == nil {
		return nil
	}

	newSet := make(map[string]bool, len(newManifest))
	for _, line := range newManifest {
		newSet[line] = true
	}

	for _, line := range oldManifest {
		if newSet[line] {
			continue
		}
		target := filepath.Join(i.Cfg.Root, strings.TrimPrefix(line, "/"))
		if criticalExecutables[line] || strings.HasPrefix(line, "/etc/") || line == "/etc/" {
			continue
		}
		if strings.HasSuffix(line, "/") {
			_ = os.Remove(target) // only removes now-empty directories.
			continue
		}
		info, err := os.Lstat(target)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			// A symlink whose target is a directory stays: other
			// packages' files live on the far side of it (a merged-usr
			// /lib pointing at /usr/lib, say). Only non-directory
			// symlinks are unlinked as leftovers.
			if ti, err := os.Stat(target); err == nil && ti.IsDir() {
				continue
			}
		}
		_ = os.Remove(target)
	}

	// Re-mirror twice: a leftover removal can delete a path two
	// packages used to share (same inode delivered twice); restore it
	// from the new tree if it's still meant to exist. A failure here is
	// tolerated; the first mirror pass already delivered every
	// new-manifest file.
	for n := 0; n < 2; n++ {
		if err := i.mirrorTree(extractDir); err != nil {
			i.Reporter.Warn(fmt.Sprintf("re-mirror after leftover prune: %s", err))
			break
		}
	}
	return nil
}

func (i *Installer) mirrorTree(extractDir string) error {
	etcSrc := filepath.Join(extractDir, "etc")
	etcDst := filepath.Join(i.Cfg.Root, "etc")
	if _, err := os.Stat(etcSrc); err == nil {
		if err := fsutil.IgnoreExisting(etcSrc, etcDst); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == "etc" {
			continue
		}
		src := filepath.Join(extractDir, e.Name())
		dst := filepath.Join(i.Cfg.Root, e.Name())
		if err := fsutil.Overwrite(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// runPostInstall executes a post-install hook if the package's
// installed-db entry carries one. A failing hook is reported but does
// not fail the install.
func (i *Installer) runPostInstall(name string) {
	hook := filepath.Join(i.DB.EntryDir(name), "post-install")
	if !metadata.IsExecutable(hook) {
		return
	}
	if err := i.Exec.Run(i.Cfg.Root, nil, nil, hook); err != nil {
		i.Reporter.Warn(fmt.Sprintf("post-install hook failed: %s", err))
	}
}
