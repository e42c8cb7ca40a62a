// Package fsutil holds the filesystem tree operations the build and
// install procedures share: plain directory walks that copy each entry
// by hand, rather than shelling out to rsync or cp -r, since the
// install path must distinguish overwrite from ignore-existing per
// file.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/xattr"
)

// Overwrite mirrors every regular file, directory, symlink, and hard
// link under src into dst, overwriting any existing file at the
// destination: the install semantics for everything outside /etc.
// Permissions, ownership, hard links, and extended attributes are
// carried over.
func Overwrite(src, dst string) error {
	return (&mirror{overwrite: true}).run(src, dst)
}

// IgnoreExisting mirrors src into dst but never overwrites a file that
// already exists at the destination: the /etc semantics, so a
// user-edited config file is never clobbered.
func IgnoreExisting(src, dst string) error {
	return (&mirror{}).run(src, dst)
}

// mirror carries one copy pass's state. seen maps a source (device,
// inode) pair to the first destination path created for it, so later
// source paths sharing the pair come out as hard links rather than
// independent copies.
type mirror struct {
	overwrite bool
	seen      map[[2]uint64]string
}

func (m *mirror) run(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return m.copyEntry(src, dst, info)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if rel == "." {
			return os.MkdirAll(target, 0o755)
		}

		entryInfo, err := d.Info()
		if err != nil {
			return err
		}
		return m.copyEntry(path, target, entryInfo)
	})
}

func (m *mirror) copyEntry(src, dst string, info os.FileInfo) error {
	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		preserveMeta(src, dst, info)
		return nil
	}

	if !m.overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return nil // ignore-existing: never clobber a user file.
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		_ = os.Remove(dst)
		if err := os.Symlink(target, dst); err != nil {
			return err
		}
		preserveMeta(src, dst, info)
		return nil
	}

	// A source file already delivered under another name in this pass
	// comes out as a hard link, keeping the staged dev/inode sharing
	// intact at the destination.
	if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Nlink > 1 {
		key := [2]uint64{uint64(st.Dev), uint64(st.Ino)}
		if first, linked := m.seen[key]; linked {
			_ = os.Remove(dst)
			return os.Link(first, dst)
		}
		if m.seen == nil {
			m.seen = make(map[[2]uint64]string)
		}
		m.seen[key] = dst
	}

	if err := copyFile(src, dst, info.Mode()); err != nil {
		return err
	}
	preserveMeta(src, dst, info)
	return nil
}

// preserveMeta carries ownership and extended attributes from src to
// dst. Both are best-effort: chown fails without privileges and xattrs
// fail on filesystems lacking support, neither of which may fail the
// mirror itself.
func preserveMeta(src, dst string, info os.FileInfo) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		_ = os.Lchown(dst, int(st.Uid), int(st.Gid))
	}
	names, err := xattr.LList(src)
	if err != nil {
		return
	}
	for _, name := range names {
		value, err := xattr.LGet(src, name)
		if err != nil {
			continue
		}
		_ = xattr.LSet(dst, name, value)
	}
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// SameFile reports whether a and b resolve to the same underlying inode
// (device+inode on platforms that expose it). Either path failing to
// stat reports false.
func SameFile(a, b string) bool {
	fa, errA := os.Stat(a)
	fb, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(fa, fb)
}
