// Package scratch manages the per-invocation scratch directories: a
// build root, a package-staging root, and an extraction root, keyed by
// process identifier, created on startup and removed on every exit
// path unless debug mode is set.
package scratch

import "os"

// Dirs is the set of scratch directories for one invocation.
type Dirs struct {
	Build   string
	Stage   string
	Extract string
	// Debug, when true, preserves the directories instead of removing
	// them on Close, so a failed build can be inspected.
	Debug bool
}

// Open creates build, stage, and extract if they don't already exist.
func Open(build, stage, extract string, debug bool) (*Dirs, error) {
	d := &Dirs{Build: build, Stage: stage, Extract: extract, Debug: debug}
	for _, dir := range []string{build, stage, extract} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	return d, nil
}

// Close removes the scratch directories unless Debug is set. The tree
// is exclusively owned by the invocation that opened it and Close is
// safe to call on every exit path: success, error, or interruption.
func (d *Dirs) Close() error {
	if d == nil || d.Debug {
		return nil
	}
	var firstErr error
	for _, dir := range []string{d.Build, d.Stage, d.Extract} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
