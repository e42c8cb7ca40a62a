// Package kisserr defines the error taxonomy every kiss component reports
// through. Each sentinel maps to one of the distinct user-visible failure
// classes: callers classify with errors.Is, and present text with
// ForPackage so multi-package operations stay diagnosable.
package kisserr

import "errors"

var (
	// ErrNoSearchPath means no repository search path was configured.
	ErrNoSearchPath = errors.New("no search path configured")
	// ErrNotFound means a package could not be located in any repository.
	ErrNotFound = errors.New("package not found")
	// ErrNotInstalled means a named package has no installed-db entry.
	ErrNotInstalled = errors.New("package not installed")
	// ErrInvalidPackage means a tarball or definition failed structural checks.
	ErrInvalidPackage = errors.New("invalid package")

	// ErrMissingChecksums means a package definition has no checksums file.
	ErrMissingChecksums = errors.New("missing checksums file")
	// ErrChecksumMismatch means a computed checksum disagreed with the stored one.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrDownloadFailed means fetching a remote source failed.
	ErrDownloadFailed = errors.New("download failed")
	// ErrExtractFailed means extracting a source archive failed.
	ErrExtractFailed = errors.New("extract failed")

	// ErrBuildFailed means a package's build script exited non-zero.
	ErrBuildFailed = errors.New("build failed")
	// ErrConflict means a package's manifest overlaps an already-installed one.
	ErrConflict = errors.New("conflicting files")
	// ErrNotBuilt means install was asked for a package with no tarball in the bin cache.
	ErrNotBuilt = errors.New("package not built")

	// ErrMissingDeps means a package's runtime dependencies are not all installed.
	ErrMissingDeps = errors.New("missing dependencies")
	// ErrRequiredBy means removal was blocked by a dependent package.
	ErrRequiredBy = errors.New("required by other packages")

	// ErrIO covers scratch-directory, copy, and archive I/O failures.
	ErrIO = errors.New("i/o error")
)

// ForPackage prefixes err with the package name it happened to, so
// failures during multi-package operations name their package.
func ForPackage(name string, err error) error {
	if err == nil {
		return nil
	}
	if name == "" {
		return err
	}
	return &packageError{name: name, err: err}
}

type packageError struct {
	name string
	err  error
}

func (e *packageError) Error() string {
	return e.name + ": " + e.err.Error()
}

func (e *packageError) Unwrap() error {
	return e.err
}

// Batch accumulates independent failures so callers can report them all at
// once before aborting, e.g. every missing checksums file or checksum
// mismatch across a whole build set.
type Batch struct {
	errs []error
}

// Add appends err to the batch if it is non-nil.
func (b *Batch) Add(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

// Len reports how many errors have been collected.
func (b *Batch) Len() int {
	return len(b.errs)
}

// Errs returns the collected errors in the order they were added.
func (b *Batch) Errs() []error {
	return b.errs
}

// Err returns nil if the batch is empty, or a combined error listing every
// collected failure otherwise. The sentinels stay reachable through
// errors.Is so dispatch-level classification survives batching.
func (b *Batch) Err() error {
	return errors.Join(b.errs...)
}
