// Package exec is the subprocess abstraction layer for every opaque
// external program the engine invokes: a package's build script, strip,
// and post-install hooks. A single-method interface keeps the
// production implementation a thin os/exec wrapper and lets tests
// substitute a recording fake.
package exec

import (
	"os"
	"os/exec"
)

// Executor runs an external program with its working directory and
// output streams controlled by the caller. The real implementation
// wraps os/exec; fakes (pkg/kissfakes) record calls instead of spawning
// anything, for deterministic tests of the build/install/remove
// pipelines without a real build toolchain present.
type Executor interface {
	// Run executes name with args, working directory dir, connecting
	// stdout/stderr to the given files (nil leaves them unconnected/
	// discarded). Non-zero exit surfaces as a non-nil error.
	Run(dir string, stdout, stderr *os.File, name string, args ...string) error
}

// OS is the default Executor, backed directly by os/exec.
type OS struct{}

// Run implements Executor by shelling out via os/exec.
func (OS) Run(dir string, stdout, stderr *os.File, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	return cmd.Run()
}

// Default returns a fresh OS-backed Executor, for call sites that only
// need the zero-value default.
func Default() Executor { return OS{} }
