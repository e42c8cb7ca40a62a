// Package repo locates package definitions: it scans a search path of
// repository roots plus the installed-db root for a directory matching
// a package name.
package repo

import (
	"os"
	"path/filepath"

	"github.com/kiss-pkg/kiss/pkg/kisserr"
)

// Mode selects how many hits Find returns.
type Mode int

const (
	// First returns the first hit, search-path order, installed-db last.
	First Mode = iota
	// All returns every hit across the roots.
	All
)

// Index scans a configured search path plus the installed-db root for
// package definitions.
type Index struct {
	// SearchPath is the ordered list of repository roots.
	SearchPath []string
	// InstalledDB is the installed-db root, scanned last.
	InstalledDB string
}

// New builds an Index. Both SearchPath and InstalledDB are used as-is;
// callers populate them from env.Config.
func New(searchPath []string, installedDB string) *Index {
	return &Index{SearchPath: searchPath, InstalledDB: installedDB}
}

// roots returns the full ordered scan list: search path roots in
// declared order, then the installed-db root.
func (x *Index) roots() []string {
	if len(x.SearchPath) == 0 && x.InstalledDB == "" {
		return nil
	}
	out := append([]string(nil), x.SearchPath...)
	if x.InstalledDB != "" {
		out = append(out, x.InstalledDB)
	}
	return out
}

// Find locates name across the configured roots. First returns the
// first hit and stops scanning further roots; All scans every root and
// returns every hit. Wildcard search does not go through Find; it
// matches over AllNames.
func (x *Index) Find(name string, mode Mode) ([]string, error) {
	roots := x.roots()
	if len(roots) == 0 {
		return nil, kisserr.ErrNoSearchPath
	}

	var hits []string
	for _, root := range roots {
		candidate := filepath.Join(root, name)
		info, err := os.Stat(candidate)
		if err != nil || !info.IsDir() {
			continue
		}
		hits = append(hits, candidate)
		if mode == First {
			return hits, nil
		}
	}
	if len(hits) == 0 {
		return nil, kisserr.ForPackage(name, kisserr.ErrNotFound)
	}
	return hits, nil
}

// FindOne is a convenience wrapper around Find(name, First) returning a
// single path: first match wins, in search-path order.
func (x *Index) FindOne(name string) (string, error) {
	hits, err := x.Find(name, First)
	if err != nil {
		return "", err
	}
	return hits[0], nil
}

// Names enumerates the immediate subdirectories of root in the order
// the OS hands them back (File.ReadDir, unsorted, unlike os.ReadDir),
// the building block wildcard Search runs over.
func Names(root string) ([]string, error) {
	f, err := os.Open(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// AllNames enumerates every package name visible across the search path
// and the installed-db root, deduplicated, preserving first-seen order
// (search-path order, installed-db last): the universe Search's
// wildcard matching runs over.
func (x *Index) AllNames() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, root := range x.roots() {
		names, err := Names(root)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out, nil
}
