// Package build implements the per-package extract/invoke-build/strip/
// fixdeps/prune/manifest/tar pipeline, and the build driver that lints,
// fetches, and verifies every package in a resolved order before
// running the pipeline sequentially, one package at a time.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiss-pkg/kiss/pkg/archive"
	"github.com/kiss-pkg/kiss/pkg/elf"
	"github.com/kiss-pkg/kiss/pkg/env"
	kexec "github.com/kiss-pkg/kiss/pkg/exec"
	"github.com/kiss-pkg/kiss/pkg/fsutil"
	"github.com/kiss-pkg/kiss/pkg/installdb"
	"github.com/kiss-pkg/kiss/pkg/interrupt"
	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/klog"
	"github.com/kiss-pkg/kiss/pkg/metadata"
	"github.com/kiss-pkg/kiss/pkg/repo"
	"github.com/kiss-pkg/kiss/pkg/resolve"
	"github.com/kiss-pkg/kiss/pkg/source"
)

// toolchainLibBlocklist names shared libraries fixdeps never attributes
// to an owning package: the C library and friends that every
// dynamically linked ELF needs but that the toolchain itself, not a
// kiss package, is assumed to provide.
var toolchainLibBlocklist = map[string]bool{
	"libc.so.6":            true,
	"libc.so":              true,
	"ld-linux.so.2":        true,
	"ld-linux-x86-64.so.2": true,
	"libm.so.6":            true,
	"libpthread.so.0":      true,
	"libdl.so.2":           true,
}

// Installer is the subset of the install procedure the build driver
// needs, so it can install a just-built dependency immediately without
// pkg/build importing pkg/installer back.
type Installer interface {
	InstallTarball(ctx context.Context, tarballPath string) error
}

// Pipeline wires every collaborator the build procedure needs.
type Pipeline struct {
	Repo     *repo.Index
	DB       *installdb.DB
	Cfg      env.Config
	Reporter klog.Reporter
	DL       source.Downloader
	Exec     kexec.Executor
	Install  Installer
}

// TarballName is the bin-cache naming scheme: "<name>#<version>-<release>.tar.gz".
func TarballName(name string, v metadata.Version) string {
	return fmt.Sprintf("%s#%s.tar.gz", name, v.String())
}

func (p *Pipeline) defDir(name string) (string, error) {
	return p.Repo.FindOne(name)
}

func (p *Pipeline) dependsOf(name string) ([]metadata.Depend, error) {
	dir, err := p.defDir(name)
	if err != nil {
		return nil, nil
	}
	if metadata.HasMarker(dir, "nodepends") {
		// A nodepends marker short-circuits resolution for this
		// package: it builds against whatever is already on the system
		// rather than pulling in a dependency tree.
		return nil, nil
	}
	return metadata.ReadDepends(dir)
}

// Build drives the full pipeline for rootNames. update marks an
// update-procedure invocation: packages that are explicit at the user
// level still install immediately after building, not just
// dependencies.
func (p *Pipeline) Build(ctx context.Context, rootNames []string, update bool) error {
	result := resolve.Resolve(rootNames, resolve.Build, p.dependsOf, p.DB.IsInstalled)
	explicit := make(map[string]bool, len(result.Explicit))
	for _, n := range result.Explicit {
		explicit[n] = true
	}

	defDirs := make(map[string]string, len(result.Order))
	for _, name := range result.Order {
		dir, err := p.defDir(name)
		if err != nil {
			return kisserr.ForPackage(name, err)
		}
		defDirs[name] = dir
	}

	// All linting precedes all fetching.
	var lintBatch kisserr.Batch
	for _, name := range result.Order {
		if err := metadata.Lint(defDirs[name]); err != nil {
			lintBatch.Add(kisserr.ForPackage(name, err))
		}
	}
	if lintBatch.Len() > 0 {
		return lintBatch.Err()
	}

	// Every package must have a checksums file, all missing reported
	// together before aborting.
	var checksumsBatch kisserr.Batch
	for _, name := range result.Order {
		if _, err := os.Stat(filepath.Join(defDirs[name], "checksums")); err != nil {
			checksumsBatch.Add(kisserr.ForPackage(name, fmt.Errorf("%w", kisserr.ErrMissingChecksums)))
		}
	}
	if checksumsBatch.Len() > 0 {
		return checksumsBatch.Err()
	}

	// All fetching precedes all checksum verification: fetch every
	// package's sources first.
	fetched := make(map[string][]string, len(result.Order))
	for _, name := range result.Order {
		sources, err := metadata.ReadSources(defDirs[name])
		if err != nil {
			return kisserr.ForPackage(name, err)
		}
		cache := &source.Cache{
			Dir:    p.Cfg.SourceCache(name),
			DefDir: defDirs[name],
			DL:     p.DL,
		}
		paths, err := cache.Fetch(ctx, sources)
		if err != nil {
			return kisserr.ForPackage(name, err)
		}
		fetched[name] = paths
	}

	// All verification precedes any build step: verify every package's
	// checksums, mismatches batched.
	var mismatchBatch kisserr.Batch
	for _, name := range result.Order {
		sums, err := source.Checksum(fetched[name])
		if err != nil {
			return kisserr.ForPackage(name, err)
		}
		if err := source.Verify(defDirs[name], sums); err != nil {
			mismatchBatch.Add(kisserr.ForPackage(name, err))
		}
	}
	if mismatchBatch.Len() > 0 {
		return mismatchBatch.Err()
	}

	rootSet := make(map[string]bool, len(rootNames))
	for _, n := range rootNames {
		rootSet[n] = true
	}

	for _, name := range result.Order {
		// Cancellation is honored between packages, at the top of each
		// package's turn, never mid-stage.
		if interrupt.Cancelled(ctx) {
			return ctx.Err()
		}

		v, err := metadata.ReadVersion(defDirs[name])
		if err != nil {
			return kisserr.ForPackage(name, err)
		}
		tarPath := filepath.Join(p.Cfg.BinCache(), TarballName(name, v))

		userSpecified := rootSet[name]
		if _, err := os.Stat(tarPath); err == nil && !userSpecified {
			p.Reporter.Step(name, "Installing prebuilt package")
			if err := p.Install.InstallTarball(ctx, tarPath); err != nil {
				return p.Reporter.Fail(kisserr.ForPackage(name, err))
			}
			p.Reporter.Done()
			continue
		}

		if err := p.buildOne(ctx, name, defDirs[name], v, fetched[name]); err != nil {
			return kisserr.ForPackage(name, err)
		}

		// A dependency of a user-specified package (or anything at all
		// during an update) installs immediately so subsequent builds
		// can link against it.
		if update || !explicit[name] {
			builtTar := filepath.Join(p.Cfg.BinCache(), TarballName(name, v))
			if err := p.Install.InstallTarball(ctx, builtTar); err != nil {
				return kisserr.ForPackage(name, err)
			}
		}
	}
	return nil
}

// buildOne runs the full single-package pipeline: extract, invoke
// build, copy definition, strip, fix-dependencies, junk-prune,
// manifest, tar.
func (p *Pipeline) buildOne(ctx context.Context, name, defDir string, v metadata.Version, sourcePaths []string) error {
	p.Reporter.Step(name, "Building")

	buildTree := filepath.Join(p.Cfg.BuildRoot(), name)
	stageDir := filepath.Join(p.Cfg.StageRoot(), name)
	if err := os.MkdirAll(buildTree, 0o755); err != nil {
		return p.Reporter.Fail(err)
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return p.Reporter.Fail(err)
	}

	sources, err := metadata.ReadSources(defDir)
	if err != nil {
		return p.Reporter.Fail(err)
	}

	// Step 1: extract.
	for i, s := range sources {
		dest := filepath.Join(buildTree, s.Dest)
		p.Reporter.Detail("extracting " + s.Basename())
		if err := archive.Extract(ctx, sourcePaths[i], dest); err != nil {
			return p.Reporter.Fail(fmt.Errorf("%w: %s", kisserr.ErrExtractFailed, err))
		}
	}

	// Step 2: invoke build.
	buildScript := filepath.Join(defDir, "build")
	logFile, ownLog, err := p.buildLogSink()
	if err != nil {
		return p.Reporter.Fail(err)
	}
	if ownLog {
		defer logFile.Close()
	}
	if err := p.Exec.Run(buildTree, logFile, logFile, buildScript, stageDir); err != nil {
		return p.Reporter.Fail(fmt.Errorf("%w: %s", kisserr.ErrBuildFailed, err))
	}

	// Step 3: copy definition into the stage's installed-db entry.
	stagedDBEntry := filepath.Join(stageDir, env.InstalledDBRelPath, name)
	if err := fsutil.Overwrite(defDir, stagedDBEntry); err != nil {
		return p.Reporter.Fail(err)
	}

	// Step 4: strip, unless nostrip marker present.
	if !metadata.HasMarker(stagedDBEntry, "nostrip") {
		stripStage(p.Exec, stageDir, p.Reporter)
	}

	// Step 5: fix-dependencies, unless nodepends marker present.
	if !metadata.HasMarker(stagedDBEntry, "nodepends") {
		if err := p.fixDeps(stageDir, name, stagedDBEntry); err != nil {
			p.Reporter.Warn("fixdeps: " + err.Error())
		}
	}

	// Step 6: junk prune.
	for _, junk := range p.Cfg.Prune {
		_ = os.RemoveAll(filepath.Join(stageDir, junk))
	}

	// Step 7: manifest.
	manifest, err := installdb.BuildManifest(stageDir)
	if err != nil {
		return p.Reporter.Fail(err)
	}
	if err := installdb.WriteManifest(filepath.Join(stagedDBEntry, "manifest"), manifest); err != nil {
		return p.Reporter.Fail(err)
	}

	// Step 8: tar.
	tarPath := filepath.Join(p.Cfg.BinCache(), TarballName(name, v))
	if err := archive.PackTarball(ctx, stageDir, tarPath); err != nil {
		return p.Reporter.Fail(err)
	}

	return p.Reporter.Done()
}

// buildLogSink opens the configured build-log sink, defaulting to the
// invoking process's own stdin fd so script output lands on the
// terminal. own reports whether the caller must close the returned
// file (never for the inherited stdin, which outlives every package's
// build).
func (p *Pipeline) buildLogSink() (f *os.File, own bool, err error) {
	switch p.Cfg.BuildLog {
	case "":
		return os.Stdin, false, nil
	case "/dev/null":
		f, err = os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	default:
		f, err = os.OpenFile(p.Cfg.BuildLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	return f, err == nil, err
}

// stripStage walks the stage tree and applies per-file strip according
// to its ELF classification, tolerating individual failures.
func stripStage(ex kexec.Executor, stageDir string, r klog.Reporter) {
	_ = filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !elf.IsRegularFile(path) {
			return nil
		}
		var args []string
		switch elf.Classify(path) {
		case elf.Shared:
			args = []string{"--strip-unneeded", path}
		case elf.Executable:
			args = []string{"-s", path}
		case elf.Relocatable:
			args = []string{"--strip-debug", path}
		default:
			return nil
		}
		if err := ex.Run(stageDir, nil, nil, "strip", args...); err != nil {
			r.Warn(fmt.Sprintf("strip %s: %s", path, err))
		}
		return nil
	})
}

// fixDeps walks the stage for ELF files, enumerates their dynamic
// library references, locates each owning installed package by
// scanning installed manifests, and appends the owners to the staged
// depends file (sort-unique by first column).
func (p *Pipeline) fixDeps(stageDir, selfName, stagedDBEntry string) error {
	owners := make(map[string]bool)

	err := filepath.Walk(stageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !elf.IsRegularFile(path) {
			return nil
		}
		libs, lerr := elf.NeededLibraries(path)
		if lerr != nil {
			return nil // non-ELF or no dynamic section: tolerated.
		}
		for _, lib := range libs {
			if toolchainLibBlocklist[lib] {
				continue
			}
			owner, ok := p.ownerOfLibrary(lib)
			if !ok || owner == selfName {
				continue
			}
			owners[owner] = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		return nil
	}

	existing, _ := metadata.ReadDepends(stagedDBEntry)
	merged := make(map[string]metadata.DependKind, len(existing)+len(owners))
	for _, d := range existing {
		merged[d.Name] = d.Kind
	}
	for name := range owners {
		if _, ok := merged[name]; !ok {
			merged[name] = metadata.Run
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		if merged[name] == metadata.Make {
			sb.WriteString(name + " make\n")
		} else {
			sb.WriteString(name + "\n")
		}
	}
	return os.WriteFile(filepath.Join(stagedDBEntry, "depends"), []byte(sb.String()), 0o644)
}

// ownerOfLibrary resolves a SONAME to a canonical path under common
// library directories, then scans every installed package's manifest
// for an exact line match.
func (p *Pipeline) ownerOfLibrary(soname string) (string, bool) {
	var candidate string
	for _, libDir := range []string{"usr/lib", "usr/lib64", "lib", "lib64"} {
		libPath := filepath.Join(p.Cfg.Root, libDir, soname)
		if resolved, err := filepath.EvalSymlinks(libPath); err == nil {
			candidate = resolved
			break
		}
	}
	if candidate == "" {
		return "", false
	}
	rel, err := filepath.Rel(p.Cfg.Root, candidate)
	if err != nil {
		return "", false
	}
	wanted := "/" + filepath.ToSlash(rel)

	installed, err := p.DB.List(nil)
	if err != nil {
		return "", false
	}
	for _, pkg := range installed {
		lines, err := p.DB.ReadManifest(pkg.Name)
		if err != nil {
			continue
		}
		for _, line := range lines {
			if line == wanted {
				return pkg.Name, true
			}
		}
	}
	return "", false
}
