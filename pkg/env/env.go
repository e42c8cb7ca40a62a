// Package env resolves kiss's runtime configuration: pflag definitions
// bound into viper so every setting also has an environment-variable
// fallback, with flag values taking precedence.
package env

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default junk-prune list: documentation, info, gettext, locale, shell
// completions, polkit rules, and the one always-conflicting charset
// alias file.
var defaultPrune = []string{
	"usr/share/doc",
	"usr/share/info",
	"usr/share/gettext",
	"usr/share/locale",
	"usr/share/bash-completion",
	"usr/share/zsh",
	"usr/share/polkit-1/rules.d",
	"usr/lib/charset.alias",
}

// Config is the resolved runtime configuration, threaded explicitly
// through every component instead of living as package-level mutable
// state.
type Config struct {
	// SearchPath is the ordered, colon-separated repository root list.
	SearchPath []string
	// Force bypasses dependency gates on install/remove.
	Force bool
	// Root is the target filesystem root, default "/".
	Root string
	// BuildLog is a file path build-script stdout/stderr is redirected
	// to, or "" to inherit the caller's own stdin fd.
	BuildLog string
	// Debug preserves scratch directories instead of cleaning them up.
	Debug bool
	// Pid is the process-identifier used to key scratch directory names;
	// overridable for reproducible scratch names in tests.
	Pid string
	// Prune lists directories (relative to a stage root) pruned as junk
	// during the build pipeline's step 6.
	Prune []string
	// CacheDir is the cache root housing sources/, bin/, and the
	// per-invocation build-<pid>/pkg-<pid>/extract-<pid> scratch dirs.
	CacheDir string
	// SelfPackage is the name under which the package manager itself is
	// packaged, used by the update procedure's self-update special case.
	SelfPackage string
}

// Flags binds kiss's configuration flags onto fs.
func Flags(fs *pflag.FlagSet) {
	fs.StringP("root", "R", "/", "target filesystem root")
	fs.BoolP("force", "f", false, "bypass dependency gates on install/remove")
	fs.String("log", "", "build log sink (file path, or empty to inherit stdin)")
	fs.BoolP("debug", "g", false, "preserve scratch directories on exit")
	fs.String("pid", "", "process identifier override for scratch directory names")
	fs.String("prune", "", "colon-separated junk-prune list, overrides the default")
	fs.String("cache-dir", "", "cache directory base (defaults under the user cache home)")
}

// Resolve builds a Config from fs (already parsed) and the process
// environment, flags taking precedence over environment over default.
func Resolve(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KISS")
	v.AutomaticEnv()

	_ = v.BindPFlag("root", fs.Lookup("root"))
	_ = v.BindPFlag("force", fs.Lookup("force"))
	_ = v.BindPFlag("log", fs.Lookup("log"))
	_ = v.BindPFlag("debug", fs.Lookup("debug"))
	_ = v.BindPFlag("pid", fs.Lookup("pid"))
	_ = v.BindPFlag("prune", fs.Lookup("prune"))
	_ = v.BindPFlag("cache-dir", fs.Lookup("cache-dir"))
	_ = v.BindEnv("root", "KISS_ROOT")
	_ = v.BindEnv("force", "KISS_FORCE")
	_ = v.BindEnv("log", "KISS_LOG")
	_ = v.BindEnv("debug", "KISS_DEBUG")
	_ = v.BindEnv("pid", "KISS_PID")
	_ = v.BindEnv("prune", "KISS_PRUNE")
	_ = v.BindEnv("cache-dir", "KISS_CACHEDIR")

	cfg := Config{
		SearchPath:  splitPath(os.Getenv("KISS_PATH")),
		Force:       v.GetBool("force"),
		Root:        orDefault(v.GetString("root"), "/"),
		BuildLog:    v.GetString("log"),
		Debug:       v.GetBool("debug"),
		Pid:         orDefault(v.GetString("pid"), strconv.Itoa(os.Getpid())),
		Prune:       splitPruneOrDefault(v.GetString("prune")),
		CacheDir:    orDefault(v.GetString("cache-dir"), defaultCacheDir()),
		SelfPackage: "kiss",
	}
	if len(cfg.SearchPath) == 0 {
		cfg.SearchPath = nil
	}
	return cfg, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func splitPath(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitPruneOrDefault(s string) []string {
	if s == "" {
		return append([]string(nil), defaultPrune...)
	}
	return splitPath(s)
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "kiss")
	}
	return filepath.Join(os.TempDir(), "kiss-cache")
}

// BinCache is the directory holding built tarballs.
func (c Config) BinCache() string { return filepath.Join(c.CacheDir, "bin") }

// SourceCache is the per-package directory holding fetched/cached sources.
func (c Config) SourceCache(pkg string) string {
	return filepath.Join(c.CacheDir, "sources", pkg)
}

// BuildRoot is the per-invocation scratch build tree.
func (c Config) BuildRoot() string { return filepath.Join(c.CacheDir, "build-"+c.Pid) }

// StageRoot is the per-invocation scratch staging tree.
func (c Config) StageRoot() string { return filepath.Join(c.CacheDir, "pkg-"+c.Pid) }

// ExtractRoot is the per-invocation scratch extraction tree used by install.
func (c Config) ExtractRoot() string { return filepath.Join(c.CacheDir, "extract-"+c.Pid) }

// InstalledDBRoot is the on-disk installed-db path under the target
// root: "<target_root>/var/db/kiss/installed".
func (c Config) InstalledDBRoot() string {
	return filepath.Join(c.Root, "var/db/kiss/installed")
}

// InstalledDBRelPath is the installed-db path relative to a stage or tar
// root, used when building tarballs and mirroring into the target root.
const InstalledDBRelPath = "var/db/kiss/installed"
