// Package engine composes every core component into the operations the
// CLI dispatches: build, checksum, install, list, remove, search,
// update. It owns no business logic itself; each method is a thin
// wire-up of pkg/repo, pkg/metadata, pkg/installdb, pkg/resolve,
// pkg/source, pkg/build, pkg/installer, pkg/remover, and pkg/updater.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiss-pkg/kiss/pkg/build"
	"github.com/kiss-pkg/kiss/pkg/env"
	kexec "github.com/kiss-pkg/kiss/pkg/exec"
	"github.com/kiss-pkg/kiss/pkg/installdb"
	"github.com/kiss-pkg/kiss/pkg/installer"
	"github.com/kiss-pkg/kiss/pkg/interrupt"
	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/klog"
	"github.com/kiss-pkg/kiss/pkg/metadata"
	"github.com/kiss-pkg/kiss/pkg/remover"
	"github.com/kiss-pkg/kiss/pkg/repo"
	"github.com/kiss-pkg/kiss/pkg/source"
	"github.com/kiss-pkg/kiss/pkg/updater"
)

// Engine wires a resolved Config to every collaborator a top-level
// action needs.
type Engine struct {
	Cfg      env.Config
	Reporter klog.Reporter

	Repo      *repo.Index
	DB        *installdb.DB
	Pipeline  *build.Pipeline
	Installer *installer.Installer
	Remover   *remover.Remover
	Updater   *updater.Updater
}

// New builds an Engine from a resolved Config, wiring the default
// downloader (grab) and executor (os/exec) the way cmd/kiss's main
// does for a real invocation; tests construct the pieces directly
// instead of going through New so they can inject fakes. guard, if
// non-nil, gates the install/remove critical sections against the
// invocation's own SIGINT handler; passing nil disables that gating
// (e.g. in tests, where no handler is installed).
func New(cfg env.Config, reporter klog.Reporter, guard *interrupt.Guard) *Engine {
	dbRoot := cfg.InstalledDBRoot()
	db := installdb.New(dbRoot)
	repoIdx := repo.New(cfg.SearchPath, dbRoot)
	ex := kexec.Default()

	inst := &installer.Installer{DB: db, Cfg: cfg, Reporter: reporter, Exec: ex, Guard: guard}
	pipeline := &build.Pipeline{
		Repo:     repoIdx,
		DB:       db,
		Cfg:      cfg,
		Reporter: reporter,
		DL:       source.NewGrabDownloader(),
		Exec:     ex,
		Install:  inst,
	}
	rem := &remover.Remover{DB: db, Cfg: cfg, Reporter: reporter, Guard: guard}
	upd := &updater.Updater{Repo: repoIdx, DB: db, Build: pipeline, Reporter: reporter, SelfPackage: cfg.SelfPackage}

	return &Engine{
		Cfg:       cfg,
		Reporter:  reporter,
		Repo:      repoIdx,
		DB:        db,
		Pipeline:  pipeline,
		Installer: inst,
		Remover:   rem,
		Updater:   upd,
	}
}

// Build runs the build action for names.
func (e *Engine) Build(ctx context.Context, names []string) error {
	return e.Pipeline.Build(ctx, names, false)
}

// Checksum recomputes and overwrites each named package's checksums
// file from its current sources (the packager's workflow after
// editing a sources file).
func (e *Engine) Checksum(ctx context.Context, names []string) error {
	for _, name := range names {
		defDir, err := e.Repo.FindOne(name)
		if err != nil {
			return kisserr.ForPackage(name, err)
		}
		e.Reporter.Step(name, "Generating checksums")

		sources, err := metadata.ReadSources(defDir)
		if err != nil {
			return e.Reporter.Fail(kisserr.ForPackage(name, err))
		}

		cache := &source.Cache{Dir: e.Cfg.SourceCache(name), DefDir: defDir, DL: e.Pipeline.DL}
		paths, err := cache.Fetch(ctx, sources)
		if err != nil {
			return e.Reporter.Fail(kisserr.ForPackage(name, err))
		}

		sums, err := source.Checksum(paths)
		if err != nil {
			return e.Reporter.Fail(kisserr.ForPackage(name, err))
		}

		content := strings.Join(sums, "\n")
		if len(sums) > 0 {
			content += "\n"
		}
		if err := os.WriteFile(filepath.Join(defDir, "checksums"), []byte(content), 0o644); err != nil {
			return e.Reporter.Fail(kisserr.ForPackage(name, err))
		}
		e.Reporter.Done()
	}
	return nil
}

// Install runs the install action for each argument in order: a path
// ending in .tar.gz installs directly, a package name resolves to its
// "<name>#<version>-<release>.tar.gz" tarball in the bin cache and
// fails with ErrNotBuilt when no such tarball exists.
func (e *Engine) Install(ctx context.Context, args []string) error {
	for _, arg := range args {
		tarball, err := e.resolveTarball(arg)
		if err != nil {
			return err
		}
		if err := e.Installer.InstallTarball(ctx, tarball); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) resolveTarball(arg string) (string, error) {
	if strings.HasSuffix(arg, ".tar.gz") {
		if _, err := os.Stat(arg); err != nil {
			return "", fmt.Errorf("%w: %s", kisserr.ErrNotBuilt, err)
		}
		return arg, nil
	}

	defDir, err := e.Repo.FindOne(arg)
	if err != nil {
		return "", err
	}
	v, err := metadata.ReadVersion(defDir)
	if err != nil {
		return "", kisserr.ForPackage(arg, err)
	}
	tarball := filepath.Join(e.Cfg.BinCache(), build.TarballName(arg, v))
	if _, err := os.Stat(tarball); err != nil {
		return "", kisserr.ForPackage(arg, kisserr.ErrNotBuilt)
	}
	return tarball, nil
}

// List reports installed packages and their versions.
func (e *Engine) List(names []string) ([]installdb.Installed, error) {
	return e.DB.List(names)
}

// Search matches a shell-style wildcard pattern against every package
// name visible across the search path and the installed-db.
func (e *Engine) Search(pattern string) ([]string, error) {
	all, err := e.Repo.AllNames()
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, name := range all {
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Remove runs the batch remove action.
func (e *Engine) Remove(ctx context.Context, names []string) error {
	return e.Remover.RemoveAll(ctx, names)
}

// Update runs the update action. confirmSelfUpdate is consulted only
// if the package manager itself is outdated.
func (e *Engine) Update(ctx context.Context, confirmSelfUpdate func() bool) (selfUpdated bool, err error) {
	return e.Updater.Update(ctx, confirmSelfUpdate)
}
