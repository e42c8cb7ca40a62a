// Package klog is the structured event reporter the engine calls into
// instead of touching os.Stdout directly. It is an injectable interface
// so tests can assert on event order with a Recorder instead of
// scraping terminal output.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Reporter is the structured event sink the engine reports progress
// through.
type Reporter interface {
	// Step announces the start of a named step for a package, e.g.
	// ("openssl", "Building").
	Step(pkg, verb string)
	// Detail logs a secondary line under the current step, e.g. one
	// source file name during extraction.
	Detail(line string)
	// Skip closes the current step as skipped and returns nil.
	Skip() error
	// Done closes the current step as successful and returns nil.
	Done() error
	// Fail closes the current step as failed and returns err unchanged,
	// so call sites can `return r.Fail(err)`.
	Fail(err error) error
	// Warn reports a non-fatal problem the operation tolerates, e.g. a
	// single strip failure or a failing post-install hook.
	Warn(msg string)
}

// Console is the default Reporter, colorized with fatih/color.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	ok   *color.Color
	fail *color.Color
	skip *color.Color
	info *color.Color
}

// NewConsole builds a Console reporter writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{
		out:  w,
		ok:   color.New(color.FgGreen, color.Bold),
		fail: color.New(color.FgRed, color.Bold),
		skip: color.New(color.FgYellow),
		info: color.New(color.FgCyan, color.Bold),
	}
}

// NewStderrConsole builds a Console writing to stderr, keeping stdout
// free for machine-readable output like list and search results.
func NewStderrConsole() *Console {
	return NewConsole(os.Stderr)
}

func (c *Console) Step(pkg, verb string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Fprintf(c.out, "-> ")
	fmt.Fprintf(c.out, "%s: %s\n", pkg, verb)
}

func (c *Console) Detail(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "   %s\n", line)
}

func (c *Console) Skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skip.Fprintln(c.out, "   skipped")
	return nil
}

func (c *Console) Done() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ok.Fprintln(c.out, "   done")
	return nil
}

func (c *Console) Fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail.Fprintf(c.out, "   failed: %s\n", err)
	return err
}

func (c *Console) Warn(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skip.Fprintf(c.out, "!! %s\n", msg)
}

// Event is one recorded call against a Recorder, used by tests to assert
// on the sequence of reported operations without parsing console text.
type Event struct {
	Kind string // "step", "detail", "skip", "done", "fail", "warn"
	Pkg  string
	Verb string
	Text string
	Err  error
}

// Recorder is a Reporter that appends every call to a slice, for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Step(pkg, verb string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Kind: "step", Pkg: pkg, Verb: verb})
}

func (r *Recorder) Detail(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Kind: "detail", Text: line})
}

func (r *Recorder) Skip() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Kind: "skip"})
	return nil
}

func (r *Recorder) Done() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Kind: "done"})
	return nil
}

func (r *Recorder) Fail(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Kind: "fail", Err: err})
	return err
}

func (r *Recorder) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Kind: "warn", Text: msg})
}
