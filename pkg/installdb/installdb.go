// Package installdb reads and writes installed-db entries: a copy of a
// package definition plus its generated manifest, rooted at
// "<target_root>/var/db/kiss/installed/<name>/".
package installdb

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
	"github.com/kiss-pkg/kiss/pkg/kisserr"
	"github.com/kiss-pkg/kiss/pkg/metadata"
)

// DB is the installed-package database rooted at Root, e.g.
// "<target_root>/var/db/kiss/installed".
type DB struct {
	Root string
}

// New builds a DB rooted at root.
func New(root string) *DB { return &DB{Root: root} }

// EntryDir is the installed-db directory for a single package.
func (d *DB) EntryDir(name string) string {
	return filepath.Join(d.Root, name)
}

// ManifestPath is the canonical manifest path for an installed package.
func (d *DB) ManifestPath(name string) string {
	return filepath.Join(d.EntryDir(name), "manifest")
}

// IsInstalled reports whether name has an installed-db entry.
func (d *DB) IsInstalled(name string) bool {
	info, err := os.Stat(d.EntryDir(name))
	return err == nil && info.IsDir()
}

// Installed is one row of list_installed's result: a package name and
// its installed version.
type Installed struct {
	Name    string
	Version metadata.Version
}

// List reports installed packages. An empty names list enumerates
// every installed-db subdirectory; a non-empty list verifies each name
// is present and fails with ErrNotInstalled on the first miss.
func (d *DB) List(names []string) ([]Installed, error) {
	if len(names) == 0 {
		entries, err := os.ReadDir(d.Root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		var out []Installed
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			v, err := metadata.ReadVersion(d.EntryDir(e.Name()))
			if err != nil {
				continue
			}
			out = append(out, Installed{Name: e.Name(), Version: v})
		}
		return out, nil
	}

	var out []Installed
	for _, name := range names {
		if !d.IsInstalled(name) {
			return nil, kisserr.ForPackage(name, kisserr.ErrNotInstalled)
		}
		v, err := metadata.ReadVersion(d.EntryDir(name))
		if err != nil {
			return nil, kisserr.ForPackage(name, err)
		}
		out = append(out, Installed{Name: name, Version: v})
	}
	return out, nil
}

// ReadManifest returns the manifest lines for an installed package, in
// the on-disk (reverse-sorted) order.
func (d *DB) ReadManifest(name string) ([]string, error) {
	return ReadManifestFile(d.ManifestPath(name))
}

// ReadManifestFile parses any manifest file (installed-db entry or an
// extracted-tarball staging copy) into its ordered line list.
func ReadManifestFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// BuildManifest walks dir and returns every file/directory path it
// contains as an absolute path rooted at "/", directories trailing with
// "/", sorted in reverse lexical order so deletion (deepest first) is
// safe.
func BuildManifest(dir string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		abs := "/" + filepath.ToSlash(rel)
		if d.IsDir() {
			abs += "/"
		}
		entries = append(entries, abs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(entries)))
	return entries, nil
}

// WriteManifest writes lines to path atomically (write-temp, rename)
// via google/renameio: a manifest left half-written would no longer
// account for every file its package delivered.
func WriteManifest(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// Remove deletes an installed-db entry directory outright, used once a
// package's remove procedure has already deleted every file its
// manifest names.
func (d *DB) Remove(name string) error {
	return os.RemoveAll(d.EntryDir(name))
}
