// Package resolve implements the dependency resolver: a depth-first
// traversal producing a deduplicated, cycle-tolerant, insertion-ordered
// dependency list. It is a plain graph visitor over an explicit
// accumulator, with the build-mode pruning rule passed in as a
// predicate rather than embedded.
package resolve

import "github.com/kiss-pkg/kiss/pkg/metadata"

// Mode selects which resolution semantics apply.
type Mode int

const (
	// Build resolves for the build pipeline: already-installed,
	// non-root nodes are pruned.
	Build Mode = iota
	// Install resolves for a plain install ordering (no pruning).
	Install
	// Remove resolves the removal set.
	Remove
)

// Depends looks up the parsed dependency list for a package name,
// injected so the resolver never touches the filesystem directly;
// callers wire this to metadata.ReadDepends over a repo.Index lookup.
type Depends func(name string) ([]metadata.Depend, error)

// Installed reports whether a package name already has an installed-db
// entry, injected the same way as Depends.
type Installed func(name string) bool

// Result is the outcome of a resolve call: the full ordered dependency
// list, and the subset of it that was named directly by the caller
// (roots) after demotion. A root that also appears as a transitive
// dependency of another root is demoted from the explicit set, since
// it will be installed as a dependency anyway.
type Result struct {
	// Order is the full dependency list in depth-first insertion order.
	Order []string
	// Explicit is the subset of roots that were NOT found to be a
	// transitive dependency of another root.
	Explicit []string
}

// Resolve walks the dependency graph depth-first starting from roots,
// in the given order, under mode.
func Resolve(roots []string, mode Mode, depends Depends, installed Installed) Result {
	rootSet := make(map[string]bool, len(roots))
	for _, r := range roots {
		rootSet[r] = true
	}

	v := &visitor{
		mode:      mode,
		depends:   depends,
		installed: installed,
		rootSet:   rootSet,
		seen:      make(map[string]bool),
		demoted:   make(map[string]bool),
	}

	for _, root := range roots {
		v.visit(root, true)
	}

	// Roots are appended separately from the recursive walk, in the
	// order they were given, skipping duplicates already present from
	// another root's transitive closure, so callers can separate
	// explicit work from dependency work.
	for _, root := range roots {
		if !v.added[root] {
			v.order = append(v.order, root)
			v.added[root] = true
		}
	}

	var explicit []string
	for _, root := range roots {
		if !v.demoted[root] {
			explicit = append(explicit, root)
		}
	}

	return Result{Order: v.order, Explicit: explicit}
}

type visitor struct {
	mode      Mode
	depends   Depends
	installed Installed
	rootSet   map[string]bool

	seen    map[string]bool // already visited, any reason (cycle tolerance)
	added   map[string]bool // already present in order
	demoted map[string]bool
	order   []string
}

// visit walks name's dependency graph. isRoot marks a node as one of the
// caller's original root names, not a name reached only transitively;
// roots are excluded from the self-append at the bottom.
func (v *visitor) visit(name string, isRoot bool) {
	if v.added == nil {
		v.added = make(map[string]bool)
	}

	// Step 1: already present, cycle/dedup tolerance.
	if v.seen[name] {
		return
	}
	v.seen[name] = true

	// Step 2: build-mode pruning of already-installed non-root nodes.
	if v.mode == Build && !isRoot && v.installed != nil && v.installed(name) {
		return
	}

	// Step 3: recurse into dependencies, missing/unreadable = none.
	deps, _ := v.depends(name)
	for _, dep := range deps {
		if v.rootSet[dep.Name] {
			// A dependency that is also one of the caller's explicit
			// roots gets demoted: it will be installed as a dependency
			// anyway.
			v.visit(dep.Name, false)
			v.demoted[dep.Name] = true
			continue
		}
		v.visit(dep.Name, false)
	}

	// Step 4: append self for non-root nodes now; root nodes are
	// appended by the caller after the full pass (Resolve, above).
	if !isRoot {
		if !v.added[name] {
			v.order = append(v.order, name)
			v.added[name] = true
		}
	}
}
