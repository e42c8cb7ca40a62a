// Package metadata parses the on-disk package definition files:
// version, sources, depends, checksums, and the nostrip/nodepends
// marker files.
package metadata

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pault.ag/go/debian/version"
)

// invalidNameChars are the characters a package name may not contain.
const invalidNameChars = "*![]"

// ValidName reports whether name is a legal package name: non-empty and
// free of the characters reserved for glob syntax in search patterns.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.ContainsAny(name, invalidNameChars)
}

// Version is a package's version-release pair, ordered with Debian's
// version-comparison semantics (pault.ag/go/debian/version): both
// schemes encode an upstream version plus a package-local revision
// counter, and both compare numeric/alpha runs piecewise.
type Version struct {
	Upstream string
	Release  string
}

// String renders the canonical "<version>-<release>" form used in
// tarball names.
func (v Version) String() string {
	return fmt.Sprintf("%s-%s", v.Upstream, v.Release)
}

// Less reports whether v sorts before other using Debian version-compare
// rules applied to "<upstream>-<release>" strings.
func (v Version) Less(other Version) bool {
	a, errA := version.Parse(v.String())
	b, errB := version.Parse(other.String())
	if errA != nil || errB != nil {
		// Fall back to a plain string compare if either side doesn't
		// parse as a Debian version (e.g. contains characters the
		// upstream kiss format allows but dpkg doesn't); still
		// deterministic, just not piecewise-numeric.
		return v.String() < other.String()
	}
	return version.Compare(a, b) < 0
}

// Equal reports whether v and other denote the same version-release pair.
func (v Version) Equal(other Version) bool {
	return v.Upstream == other.Upstream && v.Release == other.Release
}

// ReadVersion parses the first whitespace-separated token pair out of
// dir/version. Fails if the release field is missing or empty.
func ReadVersion(dir string) (Version, error) {
	data, err := os.ReadFile(filepath.Join(dir, "version"))
	if err != nil {
		return Version{}, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 || fields[0] == "" {
		return Version{}, fmt.Errorf("version file has no version field")
	}
	if len(fields) < 2 || fields[1] == "" {
		return Version{}, fmt.Errorf("version file has no release field")
	}
	return Version{Upstream: fields[0], Release: fields[1]}, nil
}

// Source is one entry from a package's sources file: src is a URL (if it
// contains "://") or a path relative to the package definition, dest is
// the destination subdirectory under the build root (possibly empty).
type Source struct {
	Src  string
	Dest string
}

// IsURL reports whether s.Src names a remote source rather than a local
// path relative to the package definition.
func (s Source) IsURL() bool {
	return strings.Contains(s.Src, "://")
}

// Basename is the filename fetched sources are cached and checksummed
// under: the last path segment of the URL or local path.
func (s Source) Basename() string {
	clean := s.Src
	if i := strings.LastIndexByte(clean, '/'); i >= 0 {
		clean = clean[i+1:]
	}
	return clean
}

// ReadSources parses dir/sources: each non-blank, non-comment line split
// on whitespace, missing dest defaulting to "".
func ReadSources(dir string) ([]Source, error) {
	path := filepath.Join(dir, "sources")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Source
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		src := Source{Src: fields[0]}
		if len(fields) > 1 {
			src.Dest = fields[1]
		}
		out = append(out, src)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DependKind distinguishes a runtime dependency from a build-only one.
type DependKind int

const (
	// Run marks a dependency required at runtime (and thus by install's
	// dependency gate).
	Run DependKind = iota
	// Make marks a dependency only needed while building.
	Make
)

// Depend is one parsed line from a depends file.
type Depend struct {
	Name string
	Kind DependKind
}

// ReadDepends parses dir/depends: lines "<pkg> [make]", '#'-prefixed
// lines ignored. A missing or unreadable file is treated as no
// dependencies.
func ReadDepends(dir string) ([]Depend, error) {
	path := filepath.Join(dir, "depends")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, nil
	}

	var out []Depend
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		d := Depend{Name: fields[0], Kind: Run}
		if len(fields) > 1 && fields[1] == "make" {
			d.Kind = Make
		}
		out = append(out, d)
	}
	if err := sc.Err(); err != nil {
		return nil, nil
	}
	return out, nil
}

// ReadChecksums parses dir/checksums: one SHA-256 hex digest per line, in
// the same order as ReadSources.
func ReadChecksums(dir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "checksums"))
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	// Only the final newline's empty line is dropped; any other blank
	// line stays and fails verification against a computed list.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// HasMarker reports whether the marker file name exists directly under
// dir (used for nostrip/nodepends).
func HasMarker(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// IsExecutable reports whether path exists and has at least one execute
// bit set, used by Lint to validate the build script.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// Lint asserts a package definition's structural invariants: sources
// exists, build exists and is executable, version exists with both
// fields non-empty.
func Lint(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, "sources")); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	if !IsExecutable(filepath.Join(dir, "build")) {
		return fmt.Errorf("build script missing or not executable")
	}
	if _, err := ReadVersion(dir); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	return nil
}
