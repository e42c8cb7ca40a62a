package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kiss-pkg/kiss/pkg/engine"
	"github.com/kiss-pkg/kiss/pkg/env"
	"github.com/kiss-pkg/kiss/pkg/interrupt"
	"github.com/kiss-pkg/kiss/pkg/klog"
	"github.com/kiss-pkg/kiss/pkg/metadata"
	"github.com/kiss-pkg/kiss/pkg/scratch"
	"github.com/spf13/cobra"
)

const (
	// Program is the name of the program.
	Program = "kiss"
	// Description is the one-line summary shown in --help.
	Description = "A source-based package manager for a minimal distribution."
)

// version is overridable at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           fmt.Sprintf("%s <action> [pkg...]", Program),
		Short:         Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	env.Flags(root.PersistentFlags())

	help := &cobra.Command{
		Use:     "help",
		Aliases: []string{"h"},
		Short:   "Print usage and exit",
	}
	help.Run = func(*cobra.Command, []string) { _ = root.Usage() }
	root.SetHelpCommand(help)

	reporter := klog.NewStderrConsole()

	// A SIGINT is honored between package operations but blocked while
	// remove or the incremental install copy is mutating the target
	// root; Guard gates those two critical sections, and its derived
	// context is what the build/remove drivers check between packages.
	guard := interrupt.NewGuard()
	defer guard.Stop()
	ctx, cancel := guard.Context(context.Background())
	defer cancel()

	root.AddCommand(
		actionCmd("build", "b", "Build one or more packages (no args rebuilds every installed package)", reporter, guard, runBuild),
		actionCmd("checksum", "c", "Regenerate the checksums file for one or more packages", reporter, guard, runChecksum),
		actionCmd("install", "i", "Install built packages, or .tar.gz files directly", reporter, guard, runInstall),
		actionCmd("list", "l", "List installed packages", reporter, guard, runList),
		actionCmd("remove", "r", "Remove one or more installed packages", reporter, guard, runRemove),
		actionCmd("search", "s", "Search repositories with a shell-style wildcard pattern", reporter, guard, runSearch),
		actionCmd("update", "u", "Build and install every outdated package", reporter, guard, runUpdate),
		&cobra.Command{
			Use:     "version",
			Aliases: []string{"v"},
			Short:   "Print the version and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", Program, version)
				return nil
			},
		},
	)

	if err := root.ExecuteContext(ctx); err != nil {
		reporter.Warn(err.Error())
		os.Exit(1)
	}
}

type actionFunc func(ctx context.Context, e *engine.Engine, reporter klog.Reporter, args []string) error

func actionCmd(use, alias, short string, reporter klog.Reporter, guard *interrupt.Guard, fn actionFunc) *cobra.Command {
	return &cobra.Command{
		Use:     fmt.Sprintf("%s [pkg...]", use),
		Aliases: []string{alias},
		Short:   short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateNames(use, args); err != nil {
				return err
			}
			cfg, err := env.Resolve(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			// Scratch directories are created on startup and removed
			// on every exit path (success, error, interruption) unless
			// debug mode preserves them.
			sd, err := scratch.Open(cfg.BuildRoot(), cfg.StageRoot(), cfg.ExtractRoot(), cfg.Debug)
			if err != nil {
				return err
			}
			defer sd.Close()

			e := engine.New(cfg, reporter, guard)
			return fn(cmd.Context(), e, reporter, args)
		},
	}
}

// validateNames rejects glob characters everywhere except search
// (which takes wildcard patterns) and, for install, tolerates a
// .tar.gz path instead of a bare package name.
func validateNames(action string, names []string) error {
	if action == "search" {
		return nil
	}
	for _, n := range names {
		if action == "install" && strings.HasSuffix(n, ".tar.gz") {
			continue
		}
		if !metadata.ValidName(n) {
			return fmt.Errorf("%q: invalid package name", n)
		}
	}
	return nil
}

func runBuild(ctx context.Context, e *engine.Engine, _ klog.Reporter, args []string) error {
	names, err := namesOrAllInstalled(e, args)
	if err != nil {
		return err
	}
	return e.Build(ctx, names)
}

func runChecksum(ctx context.Context, e *engine.Engine, _ klog.Reporter, args []string) error {
	return e.Checksum(ctx, args)
}

func runInstall(ctx context.Context, e *engine.Engine, _ klog.Reporter, args []string) error {
	if err := requireRoot(e); err != nil {
		return err
	}
	return e.Install(ctx, args)
}

func runList(_ context.Context, e *engine.Engine, reporter klog.Reporter, args []string) error {
	installed, err := e.List(args)
	if err != nil {
		return err
	}
	for _, pkg := range installed {
		reporter.Detail(fmt.Sprintf("%s %s", pkg.Name, pkg.Version.String()))
	}
	return nil
}

func runRemove(ctx context.Context, e *engine.Engine, _ klog.Reporter, args []string) error {
	if err := requireRoot(e); err != nil {
		return err
	}
	return e.Remove(ctx, args)
}

// requireRoot refuses to install or remove against the real root
// filesystem without root privileges; a redirected target root only
// needs whatever rights the caller already has there.
func requireRoot(e *engine.Engine) error {
	if e.Cfg.Root == "/" && os.Geteuid() != 0 {
		return fmt.Errorf("root privileges required to modify /")
	}
	return nil
}

func runSearch(_ context.Context, e *engine.Engine, reporter klog.Reporter, args []string) error {
	for _, pattern := range args {
		matches, err := e.Search(pattern)
		if err != nil {
			return err
		}
		for _, m := range matches {
			reporter.Detail(m)
		}
	}
	return nil
}

func runUpdate(ctx context.Context, e *engine.Engine, reporter klog.Reporter, _ []string) error {
	selfUpdated, err := e.Update(ctx, confirmPrompt)
	if err != nil {
		return err
	}
	if selfUpdated {
		reporter.Warn("kiss was updated; re-run to update the rest of the system")
	}
	return nil
}

// confirmPrompt asks on stdin/stderr before updating the package
// manager's own package.
func confirmPrompt() bool {
	fmt.Fprint(os.Stderr, "kiss itself is outdated; update it alone first? [y/N] ")
	var answer string
	_, _ = fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// namesOrAllInstalled expands an empty argument list to every
// installed package, so a bare build rebuilds the whole system.
func namesOrAllInstalled(e *engine.Engine, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	installed, err := e.List(nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(installed))
	for _, pkg := range installed {
		names = append(names, pkg.Name)
	}
	return names, nil
}
