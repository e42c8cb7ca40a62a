// Package remover removes installed packages: it refuses to remove a
// package other installed packages still depend on (unless forced),
// then deletes its manifest-listed files in the safe reverse-lexical
// order the manifest is already stored in, preserving anything under
// /etc.
package remover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiss-pkg/kiss/pkg/env"
	"github.com/kiss-pkg/kiss/pkg/installdb"
	"github.com/kiss-pkg/kiss/pkg/interrupt"
	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/klog"
	"github.com/kiss-pkg/kiss/pkg/metadata"
	"github.com/kiss-pkg/kiss/pkg/resolve"
)

// Remover implements the remove procedure.
type Remover struct {
	DB       *installdb.DB
	Cfg      env.Config
	Reporter klog.Reporter
	// Guard, if set, holds interrupts across the manifest-ordered
	// deletion critical section.
	Guard *interrupt.Guard
}

// RequiredBy returns, sorted for deterministic error text, the
// installed packages that declare name as a runtime dependency: the
// gate Remove consults before deleting anything.
func (r *Remover) RequiredBy(name string) ([]string, error) {
	installed, err := r.DB.List(nil)
	if err != nil {
		return nil, err
	}
	var dependents []string
	for _, pkg := range installed {
		if pkg.Name == name {
			continue
		}
		deps, err := metadata.ReadDepends(r.DB.EntryDir(pkg.Name))
		if err != nil {
			continue
		}
		for _, d := range deps {
			if d.Name == name && d.Kind == metadata.Run {
				dependents = append(dependents, pkg.Name)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents, nil
}

// Remove removes a single package: gate on RequiredBy unless forced,
// then delete every manifest-listed path (deepest first, thanks to the
// manifest's own reverse-lexical storage order), preserving /etc.
func (r *Remover) Remove(name string) error {
	if !r.DB.IsInstalled(name) {
		return kisserr.ForPackage(name, kisserr.ErrNotInstalled)
	}

	r.Reporter.Step(name, "Removing")

	if !r.Cfg.Force {
		dependents, err := r.RequiredBy(name)
		if err != nil {
			return r.Reporter.Fail(kisserr.ForPackage(name, err))
		}
		if len(dependents) > 0 {
			err := fmt.Errorf("%w: %s", kisserr.ErrRequiredBy, strings.Join(dependents, ", "))
			return r.Reporter.Fail(kisserr.ForPackage(name, err))
		}
	}

	manifest, err := r.DB.ReadManifest(name)
	if err != nil {
		return r.Reporter.Fail(kisserr.ForPackage(name, err))
	}

	// Deletion is a critical section: blocking the interrupt handler
	// here avoids leaving the manifest half-deleted.
	if r.Guard != nil {
		r.Guard.Enter()
	}
	for _, line := range manifest {
		if strings.HasPrefix(line, "/etc/") || line == "/etc/" {
			continue // configuration is preserved across removal.
		}
		target := filepath.Join(r.Cfg.Root, strings.TrimPrefix(line, "/"))
		if strings.HasSuffix(line, "/") {
			_ = os.Remove(target) // only succeeds once the directory is empty.
			continue
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			r.Reporter.Warn(fmt.Sprintf("%s: %s", target, err))
		}
	}
	dbErr := r.DB.Remove(name)
	if r.Guard != nil {
		r.Guard.Leave()
	}
	if dbErr != nil {
		return r.Reporter.Fail(kisserr.ForPackage(name, dbErr))
	}

	return r.Reporter.Done()
}

// RemoveAll is the batch remove: resolve the removal set, keep only
// the user-named roots from the resolved list (in the order the
// resolver produced them), then remove in that order.
func (r *Remover) RemoveAll(ctx context.Context, names []string) error {
	depends := func(name string) ([]metadata.Depend, error) {
		return metadata.ReadDepends(r.DB.EntryDir(name))
	}
	result := resolve.Resolve(names, resolve.Remove, depends, r.DB.IsInstalled)

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var ordered []string
	for _, n := range result.Order {
		if wanted[n] {
			ordered = append(ordered, n)
		}
	}

	for _, name := range ordered {
		// Cancellation is honored between packages, not mid-removal.
		if interrupt.Cancelled(ctx) {
			return ctx.Err()
		}
		if err := r.Remove(name); err != nil {
			return err
		}
	}
	return nil
}
