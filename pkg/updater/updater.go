// Package updater compares every installed package's version against
// its repository definition, special-cases the package manager's own
// update (build and install it alone, then tell the caller to re-run),
// and otherwise drives pkg/build over every outdated package in
// dependency order with the update flag set.
package updater

import (
	"context"
	"sort"

	"github.com/kiss-pkg/kiss/pkg/installdb"
	"github.com/kiss-pkg/kiss/pkg/klog"
	"github.com/kiss-pkg/kiss/pkg/metadata"
	"github.com/kiss-pkg/kiss/pkg/repo"
)

// Builder is the subset of pkg/build.Pipeline the updater drives.
type Builder interface {
	Build(ctx context.Context, rootNames []string, update bool) error
}

// Outdated is one installed package whose repository version differs
// from what's installed.
type Outdated struct {
	Name      string
	Installed metadata.Version
	Available metadata.Version
}

// Updater implements the update procedure.
type Updater struct {
	Repo        *repo.Index
	DB          *installdb.DB
	Build       Builder
	Reporter    klog.Reporter
	SelfPackage string
}

// Outdated compares every installed package's version-release against
// its repository definition, recording any whose repository version
// differs from the installed one.
func (u *Updater) Outdated() ([]Outdated, error) {
	installed, err := u.DB.List(nil)
	if err != nil {
		return nil, err
	}

	var out []Outdated
	for _, pkg := range installed {
		defDir, err := u.Repo.FindOne(pkg.Name)
		if err != nil {
			continue // no longer in any repository: nothing to compare against.
		}
		repoVersion, err := metadata.ReadVersion(defDir)
		if err != nil {
			continue
		}
		if !pkg.Version.Equal(repoVersion) {
			out = append(out, Outdated{Name: pkg.Name, Installed: pkg.Version, Available: repoVersion})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update runs the full update procedure. confirmSelfUpdate is
// consulted only when the package manager itself is among the outdated
// set; callers wire it to whatever prompt mechanism they use. Updating
// the manager with a half-stale manager is avoided by building and
// installing it alone, then asking the caller to re-run. When the self
// package is outdated and the prompt is declined, Update returns nil
// without touching anything else.
func (u *Updater) Update(ctx context.Context, confirmSelfUpdate func() bool) (selfUpdated bool, err error) {
	outdated, err := u.Outdated()
	if err != nil {
		return false, err
	}
	if len(outdated) == 0 {
		return false, nil
	}

	for _, o := range outdated {
		if o.Name != u.SelfPackage {
			continue
		}
		if confirmSelfUpdate != nil && !confirmSelfUpdate() {
			return false, nil
		}
		u.Reporter.Warn("updating the package manager itself; re-run once this completes")
		if err := u.Build.Build(ctx, []string{u.SelfPackage}, true); err != nil {
			return false, err
		}
		return true, nil
	}

	names := make([]string, 0, len(outdated))
	for _, o := range outdated {
		names = append(names, o.Name)
	}
	return false, u.Build.Build(ctx, names, true)
}
